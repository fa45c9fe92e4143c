// File: reactor/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"github.com/google/uuid"

	"github.com/momentics/wsreactor/api"
)

// Conn is the per-socket state owned by the reactor goroutine. Workers
// never hold a Conn: they reference connections by UUID only, plus
// whatever immutable snapshots (peer, descriptor number) were handed to
// them at spawn time.
type Conn struct {
	uuid    string
	fd      int
	peer    string
	path    string
	mode    api.Mode
	session api.Session

	// Inbound bytes read off the socket but not yet consumed by the
	// request delimiter or the frame decoder.
	readBuf []byte

	// Outbound chunks in write order; outOff is the progress inside
	// outgoing[0]. Appended when a Send action is applied, drained by
	// write readiness.
	outgoing   [][]byte
	outOff     int
	writeArmed bool

	// Fragmented-message reassembly state, WebSocket mode only.
	fragActive bool
	fragOpcode byte
	fragBuf    []byte
}

func newConn(fd int, peer string, mode api.Mode) *Conn {
	return &Conn{
		uuid: uuid.NewString(),
		fd:   fd,
		peer: peer,
		mode: mode,
	}
}

// UUID returns the stable identifier used for every cross-goroutine
// reference to this connection.
func (c *Conn) UUID() string { return c.uuid }

// FD returns the socket descriptor. The descriptor is owned by the
// reactor; the value is a snapshot and may be stale by the time the
// caller acts on it.
func (c *Conn) FD() int { return c.fd }

// Peer returns the remote address as host:port.
func (c *Conn) Peer() string { return c.peer }

// Mode reports whether the connection currently speaks HTTP or WebSocket.
// It transitions exactly once, HTTP to WebSocket, never back.
func (c *Conn) Mode() api.Mode { return c.mode }

// Path returns the route the connection upgraded on; empty in HTTP mode.
func (c *Conn) Path() string { return c.path }

// PendingWrites reports how many outbound chunks are waiting to flush.
func (c *Conn) PendingWrites() int { return len(c.outgoing) }
