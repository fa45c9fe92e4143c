// File: protocol/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental WebSocket frame codec. DecodeFrame consumes from an
// accumulation buffer and reports how many bytes it used, so the caller can
// keep partial frames buffered across edge-triggered reads. Payload size is
// enforced at decode time to keep a hostile peer from exhausting memory.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/wsreactor/api"
)

// DefaultMaxFramePayload bounds a single frame's payload when the caller
// passes a non-positive limit.
const DefaultMaxFramePayload = 1 << 20 // 1 MiB

// Frame is one decoded WebSocket frame. Payload is unmasked and owned by
// the frame (copied out of the read buffer).
type Frame struct {
	Final   bool
	Opcode  byte
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// DecodeFrame parses the first complete frame in raw. It returns
// (nil, 0, nil) while raw does not yet hold a complete frame, and
// (frame, consumed, nil) once it does. Errors mean the stream violates
// RFC 6455 framing and the connection should be retired.
func DecodeFrame(raw []byte, maxPayload int64) (*Frame, int, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayload
	}
	if len(raw) < 2 {
		return nil, 0, nil
	}

	fin := raw[0]&0x80 != 0
	if raw[0]&0x70 != 0 {
		// RSV bits without a negotiated extension.
		return nil, 0, fmt.Errorf("%w: reserved bits set", api.ErrMalformedFrame)
	}
	opcode := raw[0] & 0x0F
	masked := raw[1]&0x80 != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		u := binary.BigEndian.Uint64(raw[offset:])
		if u > uint64(maxPayload) {
			return nil, 0, fmt.Errorf("%w: %d > %d", api.ErrFrameTooLarge, u, maxPayload)
		}
		length = int64(u)
		offset += 8
	}

	if length > maxPayload {
		return nil, 0, fmt.Errorf("%w: %d > %d", api.ErrFrameTooLarge, length, maxPayload)
	}
	if IsControl(opcode) {
		if !fin {
			return nil, 0, fmt.Errorf("%w: fragmented control frame", api.ErrMalformedFrame)
		}
		if length > 125 {
			return nil, 0, fmt.Errorf("%w: control payload %d > 125", api.ErrMalformedFrame, length)
		}
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:total])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i&3]
		}
	}

	return &Frame{
		Final:   fin,
		Opcode:  opcode,
		Masked:  masked,
		MaskKey: maskKey,
		Payload: payload,
	}, total, nil
}

// EncodeFrame serializes one server-to-client frame. Server frames are
// never masked per RFC 6455 section 5.1.
func EncodeFrame(opcode byte, payload []byte, fin bool) []byte {
	return appendFrame(nil, opcode, payload, fin, false, [4]byte{})
}

// EncodeMaskedFrame serializes one client-to-server frame with the given
// mask key. Used by dialing clients and by tests that impersonate one.
func EncodeMaskedFrame(opcode byte, payload []byte, fin bool, key [4]byte) []byte {
	return appendFrame(nil, opcode, payload, fin, true, key)
}

func appendFrame(dst []byte, opcode byte, payload []byte, fin, masked bool, key [4]byte) []byte {
	var b0 byte
	if fin {
		b0 = 0x80
	}
	b0 |= opcode & 0x0F

	maskBit := byte(0)
	if masked {
		maskBit = 0x80
	}

	plen := len(payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(plen))
		dst = append(dst, ext[:]...)
	default:
		dst = append(dst, b0, 127|maskBit)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(plen))
		dst = append(dst, ext[:]...)
	}

	if masked {
		dst = append(dst, key[:]...)
		start := len(dst)
		dst = append(dst, payload...)
		for i := 0; i < plen; i++ {
			dst[start+i] ^= key[i&3]
		}
		return dst
	}
	return append(dst, payload...)
}

// CloseCode extracts the status code from a close frame payload,
// CloseNoStatusReceived when the payload carries none.
func CloseCode(payload []byte) int {
	if len(payload) < 2 {
		return CloseNoStatusReceived
	}
	return int(binary.BigEndian.Uint16(payload[:2]))
}

// ClosePayload builds a close frame payload carrying code. The no-status
// code never appears on the wire: echoing an empty close stays empty.
func ClosePayload(code int) []byte {
	if code == CloseNoStatusReceived {
		return nil
	}
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(code))
	return p[:]
}
