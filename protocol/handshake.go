// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 6455 opening handshake: upgrade detection, Sec-WebSocket-Accept
// computation, and the fixed 101 Switching Protocols response.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/momentics/wsreactor/api"
)

// WebSocketGUID is the fixed GUID appended to the client key before
// hashing, per RFC 6455 section 1.3.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeHeaderSize bounds the combined length of upgrade request
// headers accepted for handshake computation.
const MaxHandshakeHeaderSize = 8192

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA-1(key + WebSocketGUID)).
func AcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsUpgradeRequest reports whether the request headers ask for a WebSocket
// upgrade. Token matching is case-insensitive and list-aware, since
// Connection may carry multiple tokens ("keep-alive, Upgrade").
func IsUpgradeRequest(h http.Header) bool {
	return headerContainsToken(h, "Connection", "upgrade") &&
		headerContainsToken(h, "Upgrade", "websocket") &&
		h.Get("Sec-WebSocket-Key") != ""
}

// HandshakeResponse validates the upgrade request headers and returns the
// serialized 101 Switching Protocols response. Subprotocol and extension
// negotiation are not offered.
func HandshakeResponse(h http.Header) ([]byte, error) {
	total := 0
	for k, vs := range h {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeaderSize {
			return nil, fmt.Errorf("%w: headers exceed %d bytes", api.ErrHandshake, MaxHandshakeHeaderSize)
		}
	}

	if !headerContainsToken(h, "Connection", "upgrade") ||
		!headerContainsToken(h, "Upgrade", "websocket") {
		return nil, fmt.Errorf("%w: missing upgrade tokens", api.ErrHandshake)
	}
	key := h.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("%w: missing Sec-WebSocket-Key", api.ErrHandshake)
	}
	if v := h.Get("Sec-WebSocket-Version"); v != "13" {
		return nil, fmt.Errorf("%w: unsupported version %q", api.ErrHandshake, v)
	}

	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: ")
	sb.WriteString(AcceptKey(key))
	sb.WriteString("\r\n\r\n")
	return []byte(sb.String()), nil
}

// headerContainsToken checks whether the named header contains token in
// any of its comma-separated values, case-insensitively.
func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h[http.CanonicalHeaderKey(name)] {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
