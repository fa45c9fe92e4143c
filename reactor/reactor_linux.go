//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) reactor. One goroutine calls Wait / DispatchReady /
// ApplyQueuedActions (usually via Loop); that goroutine is the sole owner
// of the epoll set, the registry and every connection's buffers. The send
// queue's enqueue hook writes an eventfd registered in the same epoll set,
// so worker results interrupt a blocked Wait without a side polling loop.

package reactor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/queue"
	"github.com/momentics/wsreactor/transport"
	"github.com/momentics/wsreactor/worker"
)

// Reactor owns the epoll descriptor and the connection registry.
type Reactor struct {
	epfd   int
	wakeFD int

	opts       Options
	deps       Deps
	workerDeps worker.Deps
	log        *zap.Logger
	metrics    *control.Metrics

	// mu guards the registry maps. The loop goroutine is the only
	// writer; the lock exists for Connection/Len style introspection
	// from other goroutines.
	mu    sync.Mutex
	conns map[string]*Conn
	byFD  map[int]*Conn

	listenFD     int
	acceptingOff atomic.Bool

	events  []unix.EpollEvent
	readyN  int
	scratch []byte

	// pendingFree holds retired connections until the next Wait so that
	// references from the in-flight event batch stay valid.
	pendingFree []*Conn

	closed       atomic.Bool
	loopStarted  atomic.Bool
	loopDone     chan struct{}
	teardownOnce sync.Once
}

// New creates a reactor with its epoll set and wake descriptor and hooks
// the queue's enqueue notification to the wake. Failure here is fatal to
// the caller: without the readiness machinery nothing can run.
func New(opts Options, deps Deps) (*Reactor, error) {
	if deps.Queue == nil {
		return nil, errors.New("reactor: send queue is required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	opts = opts.withDefaults()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll add wake descriptor: %w", err)
	}

	r := &Reactor{
		epfd:       epfd,
		wakeFD:     wakeFD,
		opts:       opts,
		deps:       deps,
		workerDeps: deps.workerDeps(opts.DirectWrite),
		log:        deps.Log,
		metrics:    deps.Metrics,
		conns:      make(map[string]*Conn),
		byFD:       make(map[int]*Conn),
		listenFD:   -1,
		events:     make([]unix.EpollEvent, opts.MaxEvents),
		scratch:    make([]byte, opts.ReadBufferSize),
		loopDone:   make(chan struct{}),
	}
	deps.Queue.OnEnqueue(r.Wake)
	return r, nil
}

// ServeListener registers a listening descriptor from transport.Listen.
// Must be called before the loop starts; at most one listener is served.
func (r *Reactor) ServeListener(fd int) error {
	if r.listenFD >= 0 {
		return fmt.Errorf("listener already registered on fd %d", r.listenFD)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add listener: %w", err)
	}
	r.listenFD = fd
	return nil
}

// StopAccepting closes the listener at the next Wait while leaving live
// connections untouched. Safe from any goroutine.
func (r *Reactor) StopAccepting() {
	r.acceptingOff.Store(true)
	r.Wake()
}

// Adopt registers an already-connected, non-blocking descriptor in HTTP
// mode, as for sockets inherited across an exec or handed over by tests.
func (r *Reactor) Adopt(fd int, peer string) (*Conn, error) {
	c := newConn(fd, peer, api.ModeHTTP)
	if err := r.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Register adds the connection to the epoll set and the registry.
// An "already registered" outcome from the kernel is treated as success,
// not an error: an upgrade can race a delayed add for the same
// descriptor, and the interest mask update is all that is needed.
func (r *Reactor) Register(c *Conn) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET,
		Fd:     int32(c.fd),
	}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, c.fd, &ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll add fd %d: %w", c.fd, err)
	}
	c.writeArmed = true

	r.mu.Lock()
	_, dup := r.conns[c.uuid]
	if !dup {
		r.conns[c.uuid] = c
		r.byFD[c.fd] = c
	}
	r.mu.Unlock()
	if !dup && r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}
	return nil
}

// Rearm updates the connection's interest mask. Edge-triggered semantics
// apply: the kernel re-reports current readiness after a MOD, which is
// what guarantees a flush for data queued while the write edge was idle.
// A missing descriptor is benign — the connection was already retired.
func (r *Reactor) Rearm(c *Conn, writable bool) error {
	events := uint32(unix.EPOLLIN | unix.EPOLLET)
	if writable {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(c.fd)}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("epoll mod fd %d: %w", c.fd, err)
	}
	c.writeArmed = writable
	return nil
}

// Unregister removes the connection from the epoll set, then from the
// registry. "Not found" in either place is benign: two queued actions for
// the same UUID can both end up retiring it, and the second must win
// nothing.
func (r *Reactor) Unregister(c *Conn) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll del fd %d: %w", c.fd, err)
	}

	r.mu.Lock()
	_, present := r.conns[c.uuid]
	if present {
		delete(r.conns, c.uuid)
		// The descriptor may already belong to a replacement connection.
		if r.byFD[c.fd] == c {
			delete(r.byFD, c.fd)
		}
	}
	r.mu.Unlock()
	if present && r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}
	return nil
}

// Connection returns the live connection for uuid, nil once retired.
func (r *Reactor) Connection(uuid string) *Conn { return r.lookup(uuid) }

// ConnectionByFD returns the live connection bound to descriptor fd.
func (r *Reactor) ConnectionByFD(fd int) *Conn { return r.lookupFD(fd) }

// Len reports how many connections are registered.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Reactor) lookup(uuid string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[uuid]
}

func (r *Reactor) lookupFD(fd int) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byFD[fd]
}

// Wake makes a blocked Wait return promptly. Safe from any goroutine;
// wired as the queue's enqueue hook.
func (r *Reactor) Wake() {
	if r.closed.Load() {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(r.wakeFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the counter is saturated: a wake is already
		// pending, which is all we wanted.
		return
	}
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
	}
}

// Wait frees connections retired in the previous iteration, applies a
// requested listener shutdown, then blocks until a descriptor is ready,
// the wake fires, or timeoutMillis elapses. It returns the number of
// ready events: 0 on timeout, negative on a wait failure, which is
// logged and treated as transient — the loop just continues. Only the
// reactor goroutine may call Wait; it is not reentrant.
func (r *Reactor) Wait(timeoutMillis int) int {
	r.drainPendingFree()
	r.maybeRetireListener()

	n, err := unix.EpollWait(r.epfd, r.events, timeoutMillis)
	if err != nil {
		r.readyN = 0
		if err == unix.EINTR {
			return 0
		}
		r.log.Warn("epoll wait", zap.Error(err))
		return -1
	}
	r.readyN = n
	return n
}

// DispatchReady routes the batch produced by the last Wait: wake drains,
// listener accepts, connection reads and writes. Events for descriptors
// retired earlier in the same batch are skipped.
func (r *Reactor) DispatchReady() {
	n := r.readyN
	r.readyN = 0
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)

		if fd == r.wakeFD {
			r.drainWake()
			continue
		}
		if r.listenFD >= 0 && fd == r.listenFD {
			r.acceptReady()
			continue
		}

		c := r.lookupFD(fd)
		if c == nil {
			continue
		}
		if ev.Events&unix.EPOLLIN != 0 {
			r.readReady(c)
		}
		// Reading may have retired the connection or swapped it for an
		// upgraded one on the same descriptor.
		if r.lookupFD(fd) != c {
			continue
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			r.peerGone(c, protocol.CloseGoingAway)
			continue
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r.flushConn(c)
		}
	}
}

// ApplyQueuedActions drains the send queue and applies every action in
// enqueue order. Actions naming a UUID that is no longer registered are
// discarded silently: the connection closed while the producing worker
// was still running, a lost race rather than an error.
func (r *Reactor) ApplyQueuedActions() int {
	actions := r.deps.Queue.DrainAll()
	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(len(actions)))
	}
	for _, a := range actions {
		switch a.Kind {
		case queue.KindSend:
			r.applySend(a)
		case queue.KindDisconnect:
			r.applyDisconnect(a)
		case queue.KindUpgrade:
			r.applyUpgrade(a)
		default:
			r.log.Error("unknown action kind", zap.Stringer("kind", a.Kind))
		}
	}
	return len(actions)
}

// Loop runs Wait / DispatchReady / ApplyQueuedActions until the context
// is cancelled or Close is called. While Loop runs, nothing else may
// call Wait.
func (r *Reactor) Loop(ctx context.Context) {
	if !r.loopStarted.CompareAndSwap(false, true) {
		return
	}
	defer close(r.loopDone)
	stop := context.AfterFunc(ctx, r.Wake)
	defer stop()

	for {
		if r.closed.Load() || ctx.Err() != nil {
			return
		}
		n := r.Wait(r.opts.WaitTimeoutMillis)
		if r.closed.Load() {
			return
		}
		if n > 0 {
			r.DispatchReady()
		}
		r.ApplyQueuedActions()
	}
}

// Close stops the loop if it is running, then releases everything: any
// remaining connections are force-closed, then the listener, the wake
// descriptor and the epoll set. Producers must be quiesced first — the
// shutdown order is stop accepting, wait for workers, then Close.
func (r *Reactor) Close() error {
	r.closed.Store(true)
	r.wakeWrite()
	if r.loopStarted.Load() {
		<-r.loopDone
	}
	r.teardownOnce.Do(r.teardown)
	return nil
}

// wakeWrite bypasses the closed guard; Close needs the wake to land
// after the flag is already set.
func (r *Reactor) wakeWrite() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		if _, err := unix.Write(r.wakeFD, buf[:]); err == unix.EINTR {
			continue
		}
		return
	}
}

func (r *Reactor) teardown() {
	r.acceptingOff.Store(true)
	r.maybeRetireListener()

	r.mu.Lock()
	remaining := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		remaining = append(remaining, c)
	}
	r.conns = make(map[string]*Conn)
	r.byFD = make(map[int]*Conn)
	r.mu.Unlock()

	for _, c := range remaining {
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
		unix.Close(c.fd)
		if r.metrics != nil {
			r.metrics.ActiveConnections.Dec()
		}
	}
	if len(remaining) > 0 {
		r.log.Warn("connections force-closed at teardown", zap.Int("count", len(remaining)))
	}
	r.pendingFree = nil
	unix.Close(r.wakeFD)
	unix.Close(r.epfd)
}

func (r *Reactor) drainPendingFree() {
	if len(r.pendingFree) == 0 {
		return
	}
	for i := range r.pendingFree {
		r.pendingFree[i] = nil
	}
	r.pendingFree = r.pendingFree[:0]
}

func (r *Reactor) maybeRetireListener() {
	if r.listenFD < 0 || !r.acceptingOff.Load() {
		return
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, r.listenFD, nil); err != nil && err != unix.ENOENT {
		r.log.Warn("deregister listener", zap.Error(err))
	}
	if err := unix.Close(r.listenFD); err != nil {
		r.log.Warn("close listener", zap.Error(err))
	}
	r.log.Info("listener closed", zap.Int("fd", r.listenFD))
	r.listenFD = -1
}

// acceptReady accepts until the backlog is empty. Accept errors other
// than exhaustion are logged and abandoned; the listener stays armed.
func (r *Reactor) acceptReady() {
	for {
		nfd, sa, err := unix.Accept4(r.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err != unix.EAGAIN {
				r.log.Warn("accept", zap.Error(err))
			}
			return
		}
		if err := transport.PrepareAccepted(nfd); err != nil {
			r.log.Warn("prepare accepted socket", zap.Int("fd", nfd), zap.Error(err))
			unix.Close(nfd)
			continue
		}
		c := newConn(nfd, transport.PeerName(sa), api.ModeHTTP)
		if err := r.Register(c); err != nil {
			r.log.Warn("register accepted socket", zap.Int("fd", nfd), zap.Error(err))
			unix.Close(nfd)
			continue
		}
		if r.metrics != nil {
			r.metrics.AcceptedTotal.Inc()
		}
		r.log.Debug("connection accepted",
			zap.String("uuid", c.uuid),
			zap.String("peer", c.peer),
			zap.Int("fd", nfd))
	}
}

// readReady drains the socket until EAGAIN — mandatory under
// edge-triggered notification — then hands complete requests or frames
// to workers. EOF and read errors retire the connection after whatever
// was buffered has been consumed.
func (r *Reactor) readReady(c *Conn) {
	gone := false
	for {
		n, err := unix.Read(c.fd, r.scratch)
		if n > 0 {
			c.readBuf = append(c.readBuf, r.scratch[:n]...)
			if r.metrics != nil {
				r.metrics.BytesIn.Add(float64(n))
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			r.log.Debug("read", zap.String("uuid", c.uuid), zap.Error(err))
		}
		// n == 0 without error is the peer's orderly EOF.
		gone = true
		break
	}

	if len(c.readBuf) > 0 {
		r.consume(c)
	}
	if gone {
		r.peerGone(c, protocol.CloseGoingAway)
	}
}

func (r *Reactor) consume(c *Conn) {
	if c.mode == api.ModeWebSocket {
		r.consumeFrames(c)
		return
	}
	r.consumeRequests(c)
}

// consumeRequests slices complete requests off the read buffer, one
// worker per request, using the external parser purely for delimitation.
// Without a parser the whole buffer goes to a single worker, which will
// reject it and disconnect.
func (r *Reactor) consumeRequests(c *Conn) {
	if r.deps.Parser == nil {
		raw := c.readBuf
		c.readBuf = nil
		r.startRequestWorker(c, raw)
		return
	}
	for len(c.readBuf) > 0 {
		req, consumed, err := r.deps.Parser.Parse(c.readBuf)
		if err != nil {
			r.log.Debug("corrupt request stream",
				zap.String("uuid", c.uuid),
				zap.String("peer", c.peer),
				zap.Error(err))
			r.retire(c, true)
			return
		}
		if req == nil || consumed <= 0 {
			return // incomplete: keep buffering
		}
		raw := make([]byte, consumed)
		copy(raw, c.readBuf[:consumed])
		c.readBuf = append(c.readBuf[:0], c.readBuf[consumed:]...)
		r.startRequestWorker(c, raw)
	}
}

func (r *Reactor) startRequestWorker(c *Conn, raw []byte) {
	if r.deps.Workers == nil {
		return
	}
	r.deps.Workers.StartRequest(worker.RequestInput{
		UUID: c.uuid,
		Peer: c.peer,
		FD:   c.fd,
		Raw:  raw,
	}, r.workerDeps)
}

// consumeFrames decodes complete frames off the read buffer, one worker
// per delivered frame. Framing errors cannot be resynchronized and
// abandon the connection.
func (r *Reactor) consumeFrames(c *Conn) {
	for len(c.readBuf) > 0 {
		f, consumed, err := protocol.DecodeFrame(c.readBuf, r.opts.MaxFramePayload)
		if err != nil {
			r.corruptStream(c, err)
			return
		}
		if f == nil {
			return // incomplete: keep buffering
		}
		c.readBuf = append(c.readBuf[:0], c.readBuf[consumed:]...)
		if r.metrics != nil {
			r.metrics.FramesIn.Inc()
		}
		if !r.deliverFrame(c, f) {
			return
		}
	}
}

// deliverFrame routes one decoded frame, reassembling fragmented
// messages so workers only ever see complete payloads. It reports
// whether the connection is still live.
func (r *Reactor) deliverFrame(c *Conn, f *protocol.Frame) bool {
	switch {
	case protocol.IsControl(f.Opcode) || !protocol.IsKnown(f.Opcode):
		// Control frames may interleave a fragment sequence. Unknown
		// opcodes are the frame worker's call to log and drop.
		r.startFrameWorker(c, f)
		return true

	case f.Opcode == protocol.OpContinuation:
		if !c.fragActive {
			r.log.Warn("continuation without a started message", zap.String("uuid", c.uuid))
			if r.metrics != nil {
				r.metrics.ProtocolErrors.Inc()
			}
			return true // frame dropped, connection intact
		}
		c.fragBuf = append(c.fragBuf, f.Payload...)
		if int64(len(c.fragBuf)) > r.opts.MaxFramePayload {
			r.corruptStream(c, fmt.Errorf("%w: fragmented message exceeds %d",
				api.ErrFrameTooLarge, r.opts.MaxFramePayload))
			return false
		}
		if !f.Final {
			return true
		}
		whole := &protocol.Frame{Final: true, Opcode: c.fragOpcode, Payload: c.fragBuf}
		c.fragActive, c.fragOpcode, c.fragBuf = false, 0, nil
		r.startFrameWorker(c, whole)
		return true

	default: // text or binary
		if c.fragActive {
			r.corruptStream(c, fmt.Errorf("%w: data frame inside a fragmented message",
				api.ErrMalformedFrame))
			return false
		}
		if f.Final {
			r.startFrameWorker(c, f)
			return true
		}
		c.fragActive = true
		c.fragOpcode = f.Opcode
		c.fragBuf = append([]byte(nil), f.Payload...)
		return true
	}
}

func (r *Reactor) startFrameWorker(c *Conn, f *protocol.Frame) {
	if r.deps.Workers == nil {
		return
	}
	r.deps.Workers.StartFrame(worker.FrameInput{
		UUID:    c.uuid,
		Path:    c.path,
		Peer:    c.peer,
		Event:   worker.EventFrame,
		Frame:   f,
		Session: c.session,
	}, r.workerDeps)
}

// corruptStream abandons a connection whose inbound framing cannot be
// resynchronized: best-effort protocol-error close frame, closed
// lifecycle event, retire.
func (r *Reactor) corruptStream(c *Conn, err error) {
	r.log.Warn("frame stream corrupt", zap.String("uuid", c.uuid), zap.Error(err))
	if r.metrics != nil {
		r.metrics.ProtocolErrors.Inc()
	}
	c.outgoing = append(c.outgoing,
		protocol.EncodeFrame(protocol.OpClose, protocol.ClosePayload(protocol.CloseProtocolError), true))
	r.flushConn(c)
	r.peerGone(c, protocol.CloseProtocolError)
}

// peerGone delivers the closed lifecycle event for WebSocket connections
// and retires the connection. Idempotent: a connection already retired by
// another path is left alone.
func (r *Reactor) peerGone(c *Conn, code int) {
	if r.lookup(c.uuid) == nil {
		return
	}
	if c.mode == api.ModeWebSocket && r.deps.Workers != nil {
		r.deps.Workers.StartFrame(worker.FrameInput{
			UUID:    c.uuid,
			Path:    c.path,
			Peer:    c.peer,
			Event:   worker.EventClosed,
			Code:    code,
			Session: c.session,
		}, r.workerDeps)
	}
	r.retire(c, true)
}

// retire removes a connection from service. The Conn object moves to the
// pending-free list and stays alive until the next Wait, so references
// held by the in-flight event batch remain valid. closeFD is false only
// on the upgrade path, where the descriptor moves to the replacement.
func (r *Reactor) retire(c *Conn, closeFD bool) {
	if r.lookup(c.uuid) == nil {
		return // already retired: benign race between two actions
	}
	if err := r.Unregister(c); err != nil {
		r.log.Warn("unregister", zap.String("uuid", c.uuid), zap.Error(err))
	}
	if closeFD {
		if err := unix.Close(c.fd); err != nil {
			r.log.Debug("close descriptor", zap.Int("fd", c.fd), zap.Error(err))
		}
	}
	c.fd = 0 // a retired Conn never does I/O again
	r.pendingFree = append(r.pendingFree, c)
}

// flushConn writes queued chunks until empty or EAGAIN. Write interest
// is armed exactly while bytes remain queued.
func (r *Reactor) flushConn(c *Conn) {
	for len(c.outgoing) > 0 {
		chunk := c.outgoing[0][c.outOff:]
		n, err := unix.Write(c.fd, chunk)
		if n > 0 {
			c.outOff += n
			if r.metrics != nil {
				r.metrics.BytesOut.Add(float64(n))
			}
			if c.outOff == len(c.outgoing[0]) {
				c.outgoing[0] = nil
				c.outgoing = c.outgoing[1:]
				c.outOff = 0
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if !c.writeArmed {
				if rerr := r.Rearm(c, true); rerr != nil {
					r.log.Warn("arm write interest", zap.String("uuid", c.uuid), zap.Error(rerr))
				}
			}
			return
		}
		r.log.Debug("write", zap.String("uuid", c.uuid), zap.Error(err))
		r.peerGone(c, protocol.CloseGoingAway)
		return
	}
	c.outgoing = nil
	if c.writeArmed {
		if err := r.Rearm(c, false); err != nil {
			r.log.Warn("disarm write interest", zap.String("uuid", c.uuid), zap.Error(err))
		}
	}
}

func (r *Reactor) applySend(a queue.Action) {
	c := r.lookup(a.UUID)
	if c == nil {
		if r.metrics != nil {
			r.metrics.ActionsDiscarded.Inc()
		}
		return
	}
	c.outgoing = append(c.outgoing, a.Data)
	if err := r.Rearm(c, true); err != nil {
		r.log.Warn("rearm for write", zap.String("uuid", c.uuid), zap.Error(err))
	}
	r.flushConn(c)
}

// applyDisconnect flushes what the kernel will take right now, then
// closes. The flush is bounded: the socket is non-blocking, so one pass
// either empties the buffer or stops at EAGAIN.
func (r *Reactor) applyDisconnect(a queue.Action) {
	c := r.lookup(a.UUID)
	if c == nil {
		if r.metrics != nil {
			r.metrics.ActionsDiscarded.Inc()
		}
		return
	}
	r.flushConn(c)
	if r.metrics != nil {
		r.metrics.DisconnectsTotal.Inc()
	}
	r.retire(c, true)
}

// applyUpgrade swaps an HTTP connection for a WebSocket one on the same
// descriptor. The handshake response is written synchronously — the
// reactor already owns this thread, and queueing it would let another
// action interleave with the 101.
func (r *Reactor) applyUpgrade(a queue.Action) {
	old := r.lookup(a.UUID)
	if old == nil {
		if r.metrics != nil {
			r.metrics.ActionsDiscarded.Inc()
		}
		return
	}
	resp, err := protocol.HandshakeResponse(a.Header)
	if err != nil {
		r.log.Warn("handshake rejected", zap.String("uuid", old.uuid), zap.Error(err))
		r.retire(old, true)
		return
	}

	ws := newConn(old.fd, old.peer, api.ModeWebSocket)
	ws.path = a.Path
	ws.session = r.sessionFor(a.Header)
	// Bytes the peer sent after the upgrade request are early frames;
	// they move to the new connection.
	ws.readBuf = old.readBuf
	old.readBuf = nil

	// Retire the old connection first: it shares the descriptor with the
	// new one, and unregistering it afterwards would tear down the fresh
	// watch. The descriptor itself stays open.
	r.retire(old, false)
	if err := r.Register(ws); err != nil {
		r.log.Error("register upgraded connection", zap.String("uuid", ws.uuid), zap.Error(err))
		unix.Close(ws.fd)
		return
	}

	ws.outgoing = append(ws.outgoing, resp)
	r.flushConn(ws)
	if r.lookup(ws.uuid) == nil {
		return // handshake write failed; flushConn already retired the connection
	}
	if r.metrics != nil {
		r.metrics.UpgradesTotal.Inc()
	}
	r.log.Debug("connection upgraded",
		zap.String("old", old.uuid),
		zap.String("uuid", ws.uuid),
		zap.String("path", ws.path),
		zap.Int("fd", ws.fd))

	if r.deps.Workers != nil {
		r.deps.Workers.StartFrame(worker.FrameInput{
			UUID:    ws.uuid,
			Path:    ws.path,
			Peer:    ws.peer,
			Event:   worker.EventOpen,
			Session: ws.session,
		}, r.workerDeps)
	}
	// Early frames arrived before the epoll watch existed; no future
	// readiness event covers them.
	if len(ws.readBuf) > 0 {
		r.consumeFrames(ws)
	}
}

// sessionFor resolves the session referenced by the upgrade request's
// cookie. A missing cookie, missing resolver or unknown identifier all
// yield nil; the endpoint decides whether that is acceptable.
func (r *Reactor) sessionFor(h http.Header) api.Session {
	if r.deps.Sessions == nil || h == nil {
		return nil
	}
	req := http.Request{Header: h}
	ck, err := req.Cookie(r.opts.SessionCookie)
	if err != nil || ck.Value == "" {
		return nil
	}
	sess, err := r.deps.Sessions.Resolve(ck.Value)
	if err != nil {
		r.log.Debug("session not resolved", zap.String("sid", ck.Value), zap.Error(err))
		return nil
	}
	return sess
}
