// File: worker/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EndpointContext implementation. Callbacks accumulate directives here;
// after the callback returns, the worker translates them into queued
// actions in issue order.

package worker

import (
	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/queue"
)

type directiveKind int

const (
	directiveText directiveKind = iota
	directiveBinary
	directivePing
	directivePong
	directiveClose
)

type directive struct {
	kind directiveKind
	data []byte
	code int
}

// endpointContext is single-goroutine state owned by one worker run.
type endpointContext struct {
	uuid    string
	path    string
	peer    string
	session api.Session

	directives []directive
	closed     bool
}

var _ api.EndpointContext = (*endpointContext)(nil)

func newEndpointContext(in FrameInput) *endpointContext {
	return &endpointContext{
		uuid:    in.UUID,
		path:    in.Path,
		peer:    in.Peer,
		session: in.Session,
	}
}

func (c *endpointContext) UUID() string         { return c.uuid }
func (c *endpointContext) Path() string         { return c.path }
func (c *endpointContext) Peer() string         { return c.peer }
func (c *endpointContext) Session() api.Session { return c.session }

func (c *endpointContext) SendText(text string) {
	c.append(directive{kind: directiveText, data: []byte(text)})
}

func (c *endpointContext) SendBinary(data []byte) {
	c.append(directive{kind: directiveBinary, data: data})
}

func (c *endpointContext) Ping(payload []byte) {
	c.append(directive{kind: directivePing, data: payload})
}

func (c *endpointContext) Pong(payload []byte) {
	c.append(directive{kind: directivePong, data: payload})
}

func (c *endpointContext) Close(code int) {
	if c.closed {
		return
	}
	c.append(directive{kind: directiveClose, code: code})
	c.closed = true
}

func (c *endpointContext) append(d directive) {
	if c.closed {
		return
	}
	c.directives = append(c.directives, d)
}

// drainInto translates accumulated directives into queue actions in list
// order. A close directive ends the drain: anything after it would be
// discarded by the reactor anyway.
func (c *endpointContext) drainInto(q *queue.SendQueue, m *control.Metrics) {
	for _, d := range c.directives {
		switch d.kind {
		case directiveText:
			q.Send(c.uuid, protocol.EncodeFrame(protocol.OpText, d.data, true))
		case directiveBinary:
			q.Send(c.uuid, protocol.EncodeFrame(protocol.OpBinary, d.data, true))
		case directivePing:
			q.Send(c.uuid, protocol.EncodeFrame(protocol.OpPing, d.data, true))
		case directivePong:
			q.Send(c.uuid, protocol.EncodeFrame(protocol.OpPong, d.data, true))
		case directiveClose:
			q.Send(c.uuid, protocol.EncodeFrame(protocol.OpClose, protocol.ClosePayload(d.code), true))
			if m != nil {
				m.FramesOut.Inc()
			}
			q.Disconnect(c.uuid)
			return
		}
		if m != nil {
			m.FramesOut.Inc()
		}
	}
}
