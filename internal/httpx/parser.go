// File: internal/httpx/parser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RequestParser adapter over net/http. The core never parses HTTP itself;
// this adapter delimits a request inside the accumulation buffer and hands
// the header section to http.ReadRequest. Assemblies with their own HTTP
// stack plug that in instead.

package httpx

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/momentics/wsreactor/api"
)

const defaultMaxHeaderBytes = 8 << 10

var headerTerminator = []byte("\r\n\r\n")

// Parser delimits and parses HTTP/1.x requests. Only Content-Length body
// framing is supported; chunked uploads corrupt the stream and retire the
// connection, which is acceptable for upgrade-and-API traffic.
type Parser struct {
	// MaxHeaderBytes bounds the header section. Zero means 8 KiB.
	MaxHeaderBytes int
}

var _ api.RequestParser = (*Parser)(nil)

// Parse reports (nil, 0, nil) until data holds one complete request, then
// returns the parsed request and the number of bytes it occupied.
func (p *Parser) Parse(data []byte) (*http.Request, int, error) {
	limit := p.MaxHeaderBytes
	if limit <= 0 {
		limit = defaultMaxHeaderBytes
	}

	head := bytes.Index(data, headerTerminator)
	if head < 0 {
		if len(data) > limit {
			return nil, 0, fmt.Errorf("request header exceeds %d bytes", limit)
		}
		return nil, 0, nil // header incomplete
	}
	headerEnd := head + len(headerTerminator)
	if headerEnd > limit {
		return nil, 0, fmt.Errorf("request header exceeds %d bytes", limit)
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data[:headerEnd])))
	if err != nil {
		return nil, 0, fmt.Errorf("read request: %w", err)
	}
	if len(req.TransferEncoding) > 0 {
		return nil, 0, fmt.Errorf("transfer-encoding %v not supported", req.TransferEncoding)
	}

	bodyLen := 0
	if cl := req.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("content-length %q: invalid", cl)
		}
		bodyLen = n
	}

	total := headerEnd + bodyLen
	if len(data) < total {
		return nil, 0, nil // body incomplete
	}
	if bodyLen > 0 {
		body := make([]byte, bodyLen)
		copy(body, data[headerEnd:total])
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(bodyLen)
	}
	return req, total, nil
}
