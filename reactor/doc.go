// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor implements the single-threaded epoll event loop at the
// center of the server. One goroutine owns the epoll descriptor, the
// connection registry and every socket; workers communicate with it only
// through the send queue, whose enqueue hook writes an eventfd folded into
// the same epoll set. The loop never blocks on application logic and no
// worker ever closes a descriptor.
package reactor
