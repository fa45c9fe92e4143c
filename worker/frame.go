// File: worker/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame worker: one goroutine per delivered event — lifecycle open, one
// complete inbound frame, or peer-initiated close. The worker invokes
// endpoint callbacks and enqueues whatever they asked for.

package worker

import (
	"go.uber.org/zap"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/protocol"
)

// EventKind discriminates what the reactor handed to the frame worker.
type EventKind int

const (
	// EventOpen fires once, after the upgrade handshake has been written.
	EventOpen EventKind = iota
	// EventFrame carries one complete, unmasked, reassembled frame.
	EventFrame
	// EventClosed reports that the peer went away without a close frame.
	EventClosed
)

// FrameInput is the unit of work for one frame worker run.
type FrameInput struct {
	UUID    string
	Path    string
	Peer    string
	Event   EventKind
	Frame   *protocol.Frame
	Code    int
	Session api.Session
}

// StartFrame launches a frame worker for one event.
func (g *Group) StartFrame(in FrameInput, deps Deps) {
	g.spawn("frame", func() { runFrame(in, deps) })
}

func runFrame(in FrameInput, d Deps) {
	if d.Routes == nil {
		d.Log.Error("no endpoint table configured", zap.String("uuid", in.UUID))
		return
	}
	ep, ok := d.Routes.Lookup(in.Path)
	if !ok {
		d.Log.Warn("no endpoint for path",
			zap.String("uuid", in.UUID),
			zap.String("path", in.Path))
		d.Queue.Disconnect(in.UUID)
		return
	}

	ctx := newEndpointContext(in)

	switch in.Event {
	case EventOpen:
		ep.OnOpen(ctx)

	case EventClosed:
		// Peer vanished; deliver the close callback but echo nothing.
		ep.OnClose(ctx, in.Code)

	case EventFrame:
		if in.Frame == nil {
			d.Log.Error("frame event without frame", zap.String("uuid", in.UUID))
			return
		}
		switch in.Frame.Opcode {
		case protocol.OpText:
			ep.OnTextReceived(ctx, string(in.Frame.Payload))
		case protocol.OpBinary:
			ep.OnBinaryReceived(ctx, in.Frame.Payload)
		case protocol.OpClose:
			code := protocol.CloseCode(in.Frame.Payload)
			ep.OnClose(ctx, code)
			// Echo the close unless the callback already chose its own code.
			ctx.Close(code)
		case protocol.OpPing:
			ep.OnPing(ctx, in.Frame.Payload)
			// Pong is mandatory regardless of what the callback did,
			// unless it decided to close the connection instead.
			ctx.Pong(in.Frame.Payload)
		case protocol.OpPong:
			ep.OnPong(ctx, in.Frame.Payload)
		default:
			d.Log.Warn("invalid opcode, frame dropped",
				zap.String("uuid", in.UUID),
				zap.String("kind", protocol.OpcodeName(in.Frame.Opcode)),
				zap.Uint8("opcode", in.Frame.Opcode))
			if d.Metrics != nil {
				d.Metrics.ProtocolErrors.Inc()
			}
			return
		}
	}

	ctx.drainInto(d.Queue, d.Metrics)
}
