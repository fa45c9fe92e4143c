// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations and constants.

package api

// Mode is the protocol a connection currently speaks. A connection starts
// in ModeHTTP and transitions to ModeWebSocket at most once, never back.
type Mode int

const (
	ModeHTTP Mode = iota
	ModeWebSocket
)

func (m Mode) String() string {
	switch m {
	case ModeHTTP:
		return "http"
	case ModeWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Response is the outcome of application dispatch for one HTTP request:
// fully serialized response bytes plus the keep-alive decision. The core
// never interprets the bytes.
type Response struct {
	Bytes     []byte
	KeepAlive bool
}

// Session is opaque per-user state resolved during the WebSocket upgrade
// and handed to the endpoint's OnOpen callback.
type Session interface {
	ID() string
	Value(key string) any
	SetValue(key string, value any)
}
