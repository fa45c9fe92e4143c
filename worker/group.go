// File: worker/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker accounting. Every unit of work — one HTTP request, one WebSocket
// frame or lifecycle event — runs on its own short-lived goroutine; the
// group counts them so shutdown can wait, bounded, for in-flight work.

package worker

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/queue"
)

// donePollInterval is how often WaitForAllDone re-checks the counter.
const donePollInterval = 5 * time.Millisecond

// Deps bundles the collaborators workers need. One value is shared by all
// workers of a server; everything in it is safe for concurrent use.
type Deps struct {
	Queue      *queue.SendQueue
	Routes     api.EndpointTable
	Parser     api.RequestParser
	Dispatcher api.Dispatcher
	Log        *zap.Logger
	Metrics    *control.Metrics

	// DirectWrite permits request workers to write simple non-keep-alive
	// responses straight to the descriptor snapshot.
	DirectWrite bool
}

// Group tracks active workers.
type Group struct {
	active  atomic.Int64
	log     *zap.Logger
	metrics *control.Metrics
}

// NewGroup constructs a Group logging through log.
func NewGroup(log *zap.Logger, metrics *control.Metrics) *Group {
	return &Group{log: log, metrics: metrics}
}

// Count reports the number of workers currently running.
func (g *Group) Count() int {
	return int(g.active.Load())
}

// WaitForAllDone blocks until every worker has terminated or the timeout
// elapses; it reports whether the count reached zero.
func (g *Group) WaitForAllDone(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for g.active.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(donePollInterval)
	}
	return true
}

// spawn runs fn on a new goroutine with counting and panic containment.
// A panicking endpoint or dispatcher must never take the process down;
// its outcome is simply an error log instead of queued actions.
func (g *Group) spawn(kind string, fn func()) {
	g.active.Add(1)
	if g.metrics != nil {
		g.metrics.ActiveWorkers.Inc()
	}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				g.log.Error("worker panic",
					zap.String("worker", kind),
					zap.Any("panic", p),
					zap.Stack("stack"))
			}
			g.active.Add(-1)
			if g.metrics != nil {
				g.metrics.ActiveWorkers.Dec()
			}
		}()
		fn()
	}()
}
