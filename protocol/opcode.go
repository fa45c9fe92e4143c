// File: protocol/opcode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket opcodes per RFC 6455 section 5.2. The table is closed: anything
// outside it is a protocol error at the dispatch layer.

package protocol

const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// Close status codes used by the core. Application codes pass through
// untouched.
const (
	CloseNormalClosure    = 1000
	CloseGoingAway        = 1001
	CloseProtocolError    = 1002
	CloseNoStatusReceived = 1005
)

// IsControl reports whether op is a control opcode. Control frames may not
// be fragmented and carry at most 125 payload bytes.
func IsControl(op byte) bool {
	return op >= OpClose
}

// IsKnown reports whether op is inside the closed opcode table.
func IsKnown(op byte) bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// OpcodeName returns a short human-readable opcode name for logging.
func OpcodeName(op byte) string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}
