// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sentinel errors shared across the library. Call sites wrap these with
// fmt.Errorf("...: %w", err) so callers can classify with errors.Is.

package api

import "errors"

var (
	// ErrReactorClosed is returned by reactor operations after Close.
	ErrReactorClosed = errors.New("reactor is closed")

	// ErrHandshake indicates an HTTP request that cannot be upgraded to
	// a WebSocket connection (missing or invalid upgrade headers).
	ErrHandshake = errors.New("invalid websocket handshake")

	// ErrFrameTooLarge indicates a frame whose declared payload exceeds
	// the configured limit.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")

	// ErrMalformedFrame indicates a frame violating RFC 6455 framing rules.
	ErrMalformedFrame = errors.New("malformed websocket frame")

	// ErrNoParser is returned when HTTP traffic arrives but no request
	// parser collaborator was configured.
	ErrNoParser = errors.New("no request parser configured")

	// ErrNoDispatcher is returned when a parsed request has no upgrade
	// target and no dispatcher collaborator was configured.
	ErrNoDispatcher = errors.New("no dispatcher configured")

	// ErrSessionNotFound is returned by resolvers for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkersActive is returned by Shutdown when workers were still
	// running after the bounded wait elapsed.
	ErrWorkersActive = errors.New("workers still active after shutdown wait")
)
