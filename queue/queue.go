// File: queue/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-thread send queue: the single ordered handoff between worker
// goroutines and the reactor. Workers enqueue actions keyed by connection
// UUID; only the reactor drains. One mutex around a FIFO ring keeps global
// enqueue order, which subsumes the per-UUID ordering guarantee the
// reactor depends on: a Disconnect never overtakes an earlier Send for the
// same connection.

package queue

import (
	"net/http"
	"sync"
	"time"

	fifo "github.com/eapache/queue"
)

// Kind tags a queued action.
type Kind int

const (
	// KindSend appends bytes to a connection's outgoing buffer.
	KindSend Kind = iota
	// KindDisconnect retires a connection.
	KindDisconnect
	// KindUpgrade switches a connection from HTTP to WebSocket mode.
	KindUpgrade
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindDisconnect:
		return "disconnect"
	case KindUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// Action is one queued instruction for the reactor. Immutable once
// enqueued; ownership passes to the queue and then to the reactor.
type Action struct {
	Kind Kind
	UUID string

	// Data carries the payload of a Send.
	Data []byte

	// Header and Path carry the original request header and target of an
	// Upgrade; the reactor computes the handshake response from them.
	Header http.Header
	Path   string
}

// SendQueue is a multi-producer, single-consumer action queue.
type SendQueue struct {
	mu     sync.Mutex
	fifo   *fifo.Queue
	notify func()
	dataCh chan struct{}
}

// New constructs an empty SendQueue.
func New() *SendQueue {
	return &SendQueue{
		fifo:   fifo.New(),
		dataCh: make(chan struct{}, 1),
	}
}

// OnEnqueue installs a hook invoked after every enqueue, outside the lock.
// The reactor installs its Wake here so a blocked readiness wait returns
// promptly. Must be set before producers start.
func (q *SendQueue) OnEnqueue(fn func()) {
	q.notify = fn
}

// Enqueue appends an action. Safe from any goroutine.
func (q *SendQueue) Enqueue(a Action) {
	q.mu.Lock()
	q.fifo.Add(a)
	q.mu.Unlock()

	select {
	case q.dataCh <- struct{}{}:
	default:
	}
	if q.notify != nil {
		q.notify()
	}
}

// Send enqueues payload bytes for the connection.
func (q *SendQueue) Send(uuid string, data []byte) {
	q.Enqueue(Action{Kind: KindSend, UUID: uuid, Data: data})
}

// Disconnect enqueues a disconnect for the connection.
func (q *SendQueue) Disconnect(uuid string) {
	q.Enqueue(Action{Kind: KindDisconnect, UUID: uuid})
}

// Upgrade enqueues an HTTP→WebSocket switch carrying the original request
// header and target path.
func (q *SendQueue) Upgrade(uuid string, header http.Header, path string) {
	q.Enqueue(Action{Kind: KindUpgrade, UUID: uuid, Header: header, Path: path})
}

// DrainAll atomically removes and returns every queued action in enqueue
// order. Only the reactor calls this.
func (q *SendQueue) DrainAll() []Action {
	q.mu.Lock()
	n := q.fifo.Length()
	if n == 0 {
		q.mu.Unlock()
		return nil
	}
	out := make([]Action, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.fifo.Remove().(Action))
	}
	q.mu.Unlock()

	// Consume a stale pulse so WaitForData does not wake for actions this
	// drain already returned.
	select {
	case <-q.dataCh:
	default:
	}
	return out
}

// Len reports the number of queued actions.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length()
}

// WaitForData blocks until an action is available or the timeout elapses.
// The server integrates waking into the reactor's readiness wait instead;
// this standalone wait exists for consumers without an event descriptor.
func (q *SendQueue) WaitForData(timeout time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-q.dataCh:
		return true
	case <-t.C:
		return false
	}
}
