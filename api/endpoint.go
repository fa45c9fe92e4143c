// File: api/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket endpoint contract. An endpoint is registered under a request
// path before the server starts; every lifecycle event and data frame for
// connections bound to that path is delivered through these callbacks.
//
// Callbacks run on short-lived worker goroutines, never on the reactor
// goroutine. Anything an endpoint wants to send back is accumulated on the
// EndpointContext and translated into queued actions after the callback
// returns; callbacks must not block on the connection themselves.

package api

// Endpoint receives lifecycle events and frames for one route.
type Endpoint interface {
	// OnOpen is delivered once, after the handshake response has been
	// written. ctx.Session() carries the resolved session, or nil.
	OnOpen(ctx EndpointContext)

	// OnTextReceived is delivered for each complete text message.
	OnTextReceived(ctx EndpointContext, text string)

	// OnBinaryReceived is delivered for each complete binary message.
	OnBinaryReceived(ctx EndpointContext, data []byte)

	// OnClose is delivered when the peer sent a close frame; code is the
	// close status code (1005 when the payload carried none). A close
	// frame is echoed and the connection retired after the callback.
	OnClose(ctx EndpointContext, code int)

	// OnPing is delivered for each ping; a pong carrying the same payload
	// is sent automatically after the callback returns.
	OnPing(ctx EndpointContext, payload []byte)

	// OnPong is delivered for each pong.
	OnPong(ctx EndpointContext, payload []byte)
}

// EndpointContext identifies the connection an event belongs to and
// collects the callback's outgoing directives. Directives are applied in
// the order they were issued.
type EndpointContext interface {
	UUID() string
	Path() string
	Peer() string
	Session() Session

	SendText(text string)
	SendBinary(data []byte)
	Ping(payload []byte)
	Pong(payload []byte)
	Close(code int)
}

// EndpointTable resolves an endpoint by request path. Built once at
// startup, read-only afterwards.
type EndpointTable interface {
	Lookup(path string) (Endpoint, bool)
}
