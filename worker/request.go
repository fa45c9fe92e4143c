// File: worker/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request worker: one goroutine per complete HTTP request. It parses via
// the external parser, decides between upgrade and dispatch, and hands its
// outcome to the send queue. The upgrade itself is always applied by the
// reactor — a worker only ever asks for it.

package worker

import (
	"go.uber.org/zap"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/protocol"
)

// RequestInput is the immutable snapshot a request worker runs on. FD is
// carried solely for the optional direct write; the worker must not read
// from it, and never closes it.
type RequestInput struct {
	UUID string
	Peer string
	FD   int
	Raw  []byte
}

// StartRequest launches a request worker for one complete request.
func (g *Group) StartRequest(in RequestInput, deps Deps) {
	g.spawn("request", func() { runRequest(in, deps) })
}

func runRequest(in RequestInput, d Deps) {
	if d.Parser == nil {
		d.Log.Error("request dropped", zap.String("uuid", in.UUID), zap.Error(api.ErrNoParser))
		d.Queue.Disconnect(in.UUID)
		return
	}
	req, _, err := d.Parser.Parse(in.Raw)
	if err != nil || req == nil {
		d.Log.Debug("unparseable request",
			zap.String("uuid", in.UUID),
			zap.String("peer", in.Peer),
			zap.Error(err))
		d.Queue.Disconnect(in.UUID)
		return
	}

	if protocol.IsUpgradeRequest(req.Header) && req.URL != nil {
		path := req.URL.Path
		if d.Routes != nil {
			if _, ok := d.Routes.Lookup(path); ok {
				d.Queue.Upgrade(in.UUID, req.Header, path)
				return
			}
		}
		d.Log.Debug("upgrade requested for unbound path", zap.String("path", path))
	}

	if d.Dispatcher == nil {
		d.Log.Error("request dropped", zap.String("uuid", in.UUID), zap.Error(api.ErrNoDispatcher))
		d.Queue.Disconnect(in.UUID)
		return
	}
	resp, err := d.Dispatcher.Dispatch(req, in.Peer)
	if err != nil {
		d.Log.Error("dispatch failed",
			zap.String("uuid", in.UUID),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		d.Queue.Disconnect(in.UUID)
		return
	}
	if resp == nil || len(resp.Bytes) == 0 {
		d.Queue.Disconnect(in.UUID)
		return
	}

	if d.DirectWrite && !resp.KeepAlive && in.FD > 0 {
		if rest, ok := directWrite(in.FD, resp.Bytes); ok {
			if len(rest) > 0 {
				d.Queue.Send(in.UUID, rest)
			}
			d.Queue.Disconnect(in.UUID)
			return
		}
		// Direct write failed outright; the queued path owns recovery.
	}

	d.Queue.Send(in.UUID, resp.Bytes)
	if !resp.KeepAlive {
		d.Queue.Disconnect(in.UUID)
	}
}
