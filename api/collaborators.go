// File: api/collaborators.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// External collaborator contracts. The core treats HTTP request bytes as
// opaque: delimiting and parsing them is the RequestParser's job, producing
// a response is the Dispatcher's, and mapping a session identifier to
// session state is the SessionResolver's.

package api

import "net/http"

// RequestParser turns accumulated inbound bytes into at most one parsed
// request. It reports (nil, 0, nil) when data does not yet hold a complete
// request, and (req, consumed, nil) when it does; consumed is the number of
// leading bytes the request occupied. An error means the stream is corrupt
// and the connection will be retired.
type RequestParser interface {
	Parse(data []byte) (req *http.Request, consumed int, err error)
}

// Dispatcher produces the serialized response for one parsed request.
// Returning an error or a nil response retires the connection.
type Dispatcher interface {
	Dispatch(req *http.Request, peer string) (*Response, error)
}

// DispatcherFunc adapts a plain function to the Dispatcher interface.
type DispatcherFunc func(req *http.Request, peer string) (*Response, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(req *http.Request, peer string) (*Response, error) {
	return f(req, peer)
}

// SessionResolver maps a session identifier, extracted from the upgrade
// request's cookie, to session state. Used only during the upgrade.
// Resolve returns ErrSessionNotFound for unknown identifiers.
type SessionResolver interface {
	Resolve(sessionID string) (Session, error)
}

// SessionStore extends SessionResolver with session lifecycle management.
type SessionStore interface {
	SessionResolver
	Create(id string) Session
	Delete(id string)
}
