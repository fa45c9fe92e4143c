// File: internal/httpx/parser_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpx_test

import (
	"io"
	"testing"

	"github.com/momentics/wsreactor/internal/httpx"
)

func TestParseCompleteRequest(t *testing.T) {
	p := &httpx.Parser{}
	raw := []byte("GET /ws HTTP/1.1\r\nHost: example.test\r\nUpgrade: websocket\r\n\r\n")

	req, consumed, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req == nil || consumed != len(raw) {
		t.Fatalf("req=%v consumed=%d, want full request of %d bytes", req, consumed, len(raw))
	}
	if req.Method != "GET" || req.URL.Path != "/ws" {
		t.Errorf("parsed %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Upgrade") != "websocket" {
		t.Errorf("upgrade header lost")
	}
}

func TestParseIncompleteAtEveryPrefix(t *testing.T) {
	p := &httpx.Parser{}
	raw := []byte("GET / HTTP/1.1\r\nHost: a\r\n\r\n")

	for i := 0; i < len(raw); i++ {
		req, consumed, err := p.Parse(raw[:i])
		if err != nil {
			t.Fatalf("prefix %d: unexpected error %v", i, err)
		}
		if req != nil || consumed != 0 {
			t.Fatalf("prefix %d: req=%v consumed=%d, want incomplete", i, req, consumed)
		}
	}
}

func TestParseBodyByContentLength(t *testing.T) {
	p := &httpx.Parser{}
	raw := []byte("POST /submit HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\n\r\nhello")

	// Missing one body byte: still incomplete.
	if req, _, err := p.Parse(raw[:len(raw)-1]); err != nil || req != nil {
		t.Fatalf("partial body: req=%v err=%v, want incomplete", req, err)
	}

	req, consumed, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed = %d, want %d", consumed, len(raw))
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestParsePipelinedRequests(t *testing.T) {
	p := &httpx.Parser{}
	first := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	second := "GET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	raw := []byte(first + second)

	req, consumed, err := p.Parse(raw)
	if err != nil || req == nil {
		t.Fatalf("first parse: req=%v err=%v", req, err)
	}
	if consumed != len(first) {
		t.Fatalf("consumed = %d, want %d (first request only)", consumed, len(first))
	}
	if req.URL.Path != "/a" {
		t.Errorf("first path = %q", req.URL.Path)
	}

	req, consumed, err = p.Parse(raw[len(first):])
	if err != nil || req == nil || consumed != len(second) {
		t.Fatalf("second parse: req=%v consumed=%d err=%v", req, consumed, err)
	}
	if req.URL.Path != "/b" {
		t.Errorf("second path = %q", req.URL.Path)
	}
}

func TestParseRejectsOversizedHeader(t *testing.T) {
	p := &httpx.Parser{MaxHeaderBytes: 64}
	raw := make([]byte, 0, 128)
	raw = append(raw, "GET / HTTP/1.1\r\nX-Pad: "...)
	for len(raw) < 100 {
		raw = append(raw, 'x')
	}

	if _, _, err := p.Parse(raw); err == nil {
		t.Fatalf("oversized header accepted")
	}
}

func TestParseRejectsBadContentLength(t *testing.T) {
	p := &httpx.Parser{}
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nContent-Length: nope\r\n\r\n")

	if _, _, err := p.Parse(raw); err == nil {
		t.Fatalf("invalid content-length accepted")
	}
}

func TestParseRejectsChunkedEncoding(t *testing.T) {
	p := &httpx.Parser{}
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n")

	if _, _, err := p.Parse(raw); err == nil {
		t.Fatalf("chunked request accepted")
	}
}

func TestParseRejectsGarbageRequestLine(t *testing.T) {
	p := &httpx.Parser{}
	raw := []byte("NOT-HTTP\r\n\r\n")

	if _, _, err := p.Parse(raw); err == nil {
		t.Fatalf("garbage request line accepted")
	}
}
