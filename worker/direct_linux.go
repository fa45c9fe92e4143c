//go:build linux

// File: worker/direct_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import "golang.org/x/sys/unix"

// directWrite pushes data to the descriptor snapshot without involving the
// reactor. It reports the unwritten remainder and whether any progress was
// made; on (nil, false) nothing reached the wire and the caller should use
// the queued path instead. Closing the descriptor stays the reactor's job.
func directWrite(fd int, data []byte) (rest []byte, ok bool) {
	off := 0
	for off < len(data) {
		n, err := unix.Write(fd, data[off:])
		if n > 0 {
			off += n
		}
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return data[off:], true
		default:
			if off > 0 {
				// Bytes already on the wire; the remainder must follow
				// through the queue to avoid duplication.
				return data[off:], true
			}
			return nil, false
		}
	}
	return nil, true
}
