// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral reactor wiring: construction options and the
// collaborator bundle shared by the platform implementations.

package reactor

import (
	"go.uber.org/zap"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/queue"
	"github.com/momentics/wsreactor/worker"
)

const (
	defaultMaxEvents         = 128
	defaultWaitTimeoutMillis = 100
	defaultReadBufferSize    = 64 << 10
	defaultSessionCookie     = "session_id"
)

// Options tune the event loop. Zero values fall back to defaults.
type Options struct {
	// MaxEvents caps how many readiness events a single Wait returns.
	MaxEvents int
	// WaitTimeoutMillis bounds each blocking wait inside Loop.
	WaitTimeoutMillis int
	// ReadBufferSize sizes the scratch buffer used to drain readable
	// sockets until EAGAIN.
	ReadBufferSize int
	// MaxFramePayload rejects WebSocket frames and reassembled messages
	// above this payload size.
	MaxFramePayload int64
	// SessionCookie names the cookie carrying the session identifier in
	// upgrade requests.
	SessionCookie string
	// DirectWrite lets request workers write short non-keep-alive
	// responses straight to the descriptor.
	DirectWrite bool
}

func (o Options) withDefaults() Options {
	if o.MaxEvents <= 0 {
		o.MaxEvents = defaultMaxEvents
	}
	if o.WaitTimeoutMillis <= 0 {
		o.WaitTimeoutMillis = defaultWaitTimeoutMillis
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = defaultReadBufferSize
	}
	if o.MaxFramePayload <= 0 {
		o.MaxFramePayload = protocol.DefaultMaxFramePayload
	}
	if o.SessionCookie == "" {
		o.SessionCookie = defaultSessionCookie
	}
	return o
}

// Deps bundles the reactor's collaborators. Queue, Workers and Log are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Queue      *queue.SendQueue
	Workers    *worker.Group
	Routes     api.EndpointTable
	Parser     api.RequestParser
	Dispatcher api.Dispatcher
	Sessions   api.SessionResolver
	Log        *zap.Logger
	Metrics    *control.Metrics
}

// workerDeps projects the reactor bundle onto what workers need.
func (d Deps) workerDeps(directWrite bool) worker.Deps {
	return worker.Deps{
		Queue:       d.Queue,
		Routes:      d.Routes,
		Parser:      d.Parser,
		Dispatcher:  d.Dispatcher,
		Log:         d.Log,
		Metrics:     d.Metrics,
		DirectWrite: directWrite,
	}
}
