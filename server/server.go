//go:build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server assembly: one listener, one reactor loop, one worker group and
// one send queue, wired from control.Config. The Server owns lifecycle
// and the public enqueue surface; all per-connection work happens inside
// the reactor and its workers.

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/internal/session"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/queue"
	"github.com/momentics/wsreactor/reactor"
	"github.com/momentics/wsreactor/transport"
	"github.com/momentics/wsreactor/worker"
)

// Option customizes a Server before its reactor is built.
type Option func(*Server)

// WithParser installs the request parser for inbound HTTP. The core never
// parses HTTP itself; without a parser every plain-HTTP connection,
// upgrade requests included, is dropped.
func WithParser(p api.RequestParser) Option {
	return func(s *Server) { s.parser = p }
}

// WithDispatcher installs the handler for parsed non-upgrade requests.
// Upgrade requests never reach the dispatcher, so a pure WebSocket server
// can omit it.
func WithDispatcher(d api.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// WithSessions replaces the bundled in-memory session store.
func WithSessions(r api.SessionResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// Server ties listener, reactor, send queue and worker group together and
// drives their lifecycle.
type Server struct {
	cfg     control.Config
	log     *zap.Logger
	metrics *control.Metrics
	routes  *Routes

	queue   *queue.SendQueue
	workers *worker.Group
	reactor *reactor.Reactor

	parser     api.RequestParser
	dispatcher api.Dispatcher
	resolver   api.SessionResolver

	addr       string
	metricsSrv *http.Server
	cancelLoop context.CancelFunc
	loopExit   chan struct{}
	started    atomic.Bool
}

var _ api.GracefulShutdown = (*Server)(nil)

// New wires a server from config. The listen socket is created here so
// that Addr is valid immediately; accepting begins once the loop runs.
func New(cfg control.Config, log *zap.Logger, metrics *control.Metrics, routes *Routes, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = control.NewMetrics()
	}
	if routes == nil {
		routes = NewRoutes()
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		routes:   routes,
		queue:    queue.New(),
		workers:  worker.NewGroup(log, metrics),
		loopExit: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.resolver == nil {
		s.resolver = session.NewStore(0)
	}

	r, err := reactor.New(reactor.Options{
		MaxEvents:         cfg.Server.MaxEvents,
		WaitTimeoutMillis: cfg.Server.WaitTimeoutMillis,
		ReadBufferSize:    cfg.Server.ReadBufferSize,
		MaxFramePayload:   cfg.WebSocket.MaxFramePayload,
		SessionCookie:     cfg.WebSocket.SessionCookie,
		DirectWrite:       cfg.Server.DirectWrite,
	}, reactor.Deps{
		Queue:      s.queue,
		Workers:    s.workers,
		Routes:     routes,
		Parser:     s.parser,
		Dispatcher: s.dispatcher,
		Sessions:   s.resolver,
		Log:        log,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}
	s.reactor = r

	fd, err := transport.Listen(cfg.Server.Addr)
	if err != nil {
		r.Close()
		return nil, err
	}
	addr, err := transport.LocalAddr(fd)
	if err != nil {
		transport.Close(fd)
		r.Close()
		return nil, err
	}
	if err := r.ServeListener(fd); err != nil {
		transport.Close(fd)
		r.Close()
		return nil, err
	}
	s.addr = addr
	return s, nil
}

// Start launches the reactor loop goroutine and, when enabled, the
// metrics endpoint. It returns immediately; use Run to block.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server: already started")
	}

	if s.cfg.Metrics.Enabled {
		s.serveMetrics()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelLoop = cancel
	go func() {
		defer close(s.loopExit)
		s.reactor.Loop(loopCtx)
	}()

	s.log.Info("server started",
		zap.String("addr", s.addr),
		zap.Strings("routes", s.routes.Paths()))
	return nil
}

// Run starts the server and blocks until ctx is done or the loop stops.
// Cancellation triggers a graceful Shutdown bounded by the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	case <-s.loopExit:
		// Shutdown from another goroutine already stopped the loop.
		return nil
	}
}

// Shutdown runs the graceful sequence: stop accepting, wait for in-flight
// workers, let the loop apply what they enqueued, then close the reactor,
// force-closing whatever is still registered. The worker wait is bounded
// by the configured shutdown timeout and by ctx, whichever ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.reactor.StopAccepting()

	timeout := s.cfg.Server.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	drained := s.workers.WaitForAllDone(timeout)
	if !drained {
		s.log.Warn("workers still active at shutdown", zap.Int("count", s.workers.Count()))
	}

	// Two wait periods cover one full loop cycle even if the loop just
	// went to sleep before the last enqueue.
	flushDeadline := time.Now().Add(2 * time.Duration(s.cfg.Server.WaitTimeoutMillis) * time.Millisecond)
	for s.queue.Len() > 0 && time.Now().Before(flushDeadline) {
		time.Sleep(time.Millisecond)
	}

	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.log.Warn("metrics endpoint shutdown", zap.Error(err))
		}
	}
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	if err := s.reactor.Close(); err != nil {
		return err
	}
	s.log.Info("server stopped")
	if !drained {
		return fmt.Errorf("server: %w", api.ErrWorkersActive)
	}
	return nil
}

func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Endpoint, s.metrics.Handler())
	s.metricsSrv = &http.Server{Addr: s.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
	s.log.Info("metrics endpoint enabled",
		zap.String("addr", s.cfg.Metrics.ListenAddr),
		zap.String("path", s.cfg.Metrics.Endpoint))
}

// Addr returns the bound listen address. Useful when the configured port
// was zero.
func (s *Server) Addr() string { return s.addr }

// Send enqueues raw bytes for the connection uuid. The reactor writes
// them in enqueue order relative to every other action for that
// connection. Safe from any goroutine.
func (s *Server) Send(uuid string, data []byte) { s.queue.Send(uuid, data) }

// SendText enqueues one text frame.
func (s *Server) SendText(uuid string, text string) {
	s.sendFrame(uuid, protocol.OpText, []byte(text))
}

// SendBinary enqueues one binary frame.
func (s *Server) SendBinary(uuid string, data []byte) {
	s.sendFrame(uuid, protocol.OpBinary, data)
}

// Ping enqueues one ping frame.
func (s *Server) Ping(uuid string, payload []byte) {
	s.sendFrame(uuid, protocol.OpPing, payload)
}

// Pong enqueues one pong frame.
func (s *Server) Pong(uuid string, payload []byte) {
	s.sendFrame(uuid, protocol.OpPong, payload)
}

// Disconnect asks the reactor to flush pending writes for uuid and close
// the connection.
func (s *Server) Disconnect(uuid string) { s.queue.Disconnect(uuid) }

// CloseWith enqueues a close frame carrying code, then a disconnect.
func (s *Server) CloseWith(uuid string, code int) {
	s.queue.Send(uuid, protocol.EncodeFrame(protocol.OpClose, protocol.ClosePayload(code), true))
	s.metrics.FramesOut.Inc()
	s.queue.Disconnect(uuid)
}

func (s *Server) sendFrame(uuid string, opcode byte, payload []byte) {
	s.queue.Send(uuid, protocol.EncodeFrame(opcode, payload, true))
	s.metrics.FramesOut.Inc()
}

// WorkerCount reports in-flight worker goroutines.
func (s *Server) WorkerCount() int { return s.workers.Count() }

// WaitForAllDone blocks until no workers remain or timeout elapses,
// reporting whether the group drained.
func (s *Server) WaitForAllDone(timeout time.Duration) bool {
	return s.workers.WaitForAllDone(timeout)
}

// Sessions returns the session store when the configured resolver is one,
// which the bundled default is. Nil otherwise.
func (s *Server) Sessions() api.SessionStore {
	if st, ok := s.resolver.(api.SessionStore); ok {
		return st
	}
	return nil
}
