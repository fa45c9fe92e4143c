//go:build !linux

// File: worker/direct_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

// directWrite always defers to the queued path on platforms without the
// epoll reactor.
func directWrite(int, []byte) ([]byte, bool) {
	return nil, false
}
