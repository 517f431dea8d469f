// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package server streams queued trace events to a single collector over TCP.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/mtrace/internal/pkg/event"
	"go.opentelemetry.io/mtrace/internal/pkg/log"
	"go.opentelemetry.io/mtrace/internal/pkg/queue"
	"go.opentelemetry.io/mtrace/internal/pkg/telemetry"
)

const (
	// DefaultPort is the collector port used when none is configured.
	DefaultPort = 8888
	// DefaultAgentName is announced in the greeting when none is configured.
	DefaultAgentName = "mtrace"

	defaultIdleWait = 10 * time.Millisecond
	tracerName      = "go.opentelemetry.io/mtrace/internal/pkg/server"
)

// listen binds the collector socket. Tests replace it to inject accept
// failures.
var listen = func(ctx context.Context, addr string, userTimeout time.Duration) (net.Listener, error) {
	lc := listenConfig(userTimeout)
	return lc.Listen(ctx, "tcp", addr)
}

var (
	// ErrStarted is returned by Start on a server that is already running.
	ErrStarted = errors.New("server already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("server stopped")
)

// State is the connection state of a [Server].
type State int32

const (
	// StateIdle is a server that is not listening.
	StateIdle State = iota
	// StateListening is a server waiting for a collector.
	StateListening
	// StateConnected is a server streaming to a collector.
	StateConnected
	// StateClosed is a server that will not deliver any more events this
	// session.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Greeting returns the line sent to a collector when it connects.
func Greeting(agentName string) string {
	return "Hello Client, I am " + agentName + "\n"
}

// Server owns the listening socket, the collector connection and the worker
// goroutine draining the queue onto it.
type Server struct {
	logger      *slog.Logger
	queue       *queue.Queue
	addr        string
	name        string
	reconnect   bool
	idleWait    time.Duration
	userTimeout time.Duration
	newBackOff  func() backoff.BackOff
	tracer      trace.Tracer
	metrics     *telemetry.Metrics

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	started  bool
	done     chan struct{}

	state    atomic.Int32
	active   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAddr sets the listen address, for example ":8888" or "127.0.0.1:0".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithAgentName sets the name announced in the greeting.
func WithAgentName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
	}
}

// WithReconnect controls whether the server listens for a new collector
// after the current one disconnects. Without it, events are discarded once
// the collector is gone.
func WithReconnect(reconnect bool) Option {
	return func(s *Server) { s.reconnect = reconnect }
}

// WithIdleWait bounds how long the worker sleeps on an empty queue.
func WithIdleWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleWait = d
		}
	}
}

// WithUserTimeout bounds how long written data may stay unacknowledged
// before the collector connection is considered dead. Only honored on
// Linux; zero keeps the kernel default.
func WithUserTimeout(d time.Duration) Option {
	return func(s *Server) { s.userTimeout = d }
}

// WithBackOff sets the retry policy for failed accepts. Once the policy
// returns [backoff.Stop] the server is closed for the session and events
// stay queued until Stop.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Server) {
		if fn != nil {
			s.newBackOff = fn
		}
	}
}

// WithTracerProvider sets the provider used for session spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithMetrics sets the metrics updated by the server.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New returns a Server streaming events from q. It does not listen until
// Start is called.
func New(q *queue.Queue, opts ...Option) *Server {
	s := &Server{
		logger:     log.Discard(),
		queue:      q,
		addr:       ":" + strconv.Itoa(DefaultPort),
		name:       DefaultAgentName,
		reconnect:  true,
		idleWait:   defaultIdleWait,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics, _ = telemetry.NewMetrics(nil)
	}
	return s
}

// Start binds the listening socket and starts the worker goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	ln, err := listen(ctx, s.addr, s.userTimeout)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}

	s.started = true
	s.listener = ln
	s.done = make(chan struct{})
	s.active.Store(true)
	s.setState(StateListening)
	s.logger.Info("waiting for incoming connections", "addr", ln.Addr().String())

	go s.run(ln)
	return nil
}

// Addr returns the bound listen address, or nil if the server never
// started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns the current connection state.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Debug("server state changed", "from", old, "to", st)
	}
}

// Stop shuts the server down and waits for the worker to exit. Events still
// queued are flushed to a connected collector until ctx is done; a ctx
// without deadline closes the collector connection immediately. Stop is
// safe to call more than once and before Start.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.active.Store(false)
		close(s.stopCh)

		s.mu.Lock()
		done := s.done
		if s.listener != nil {
			if e := s.listener.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
				err = errors.Wrap(e, "failed to close listener")
			}
		}
		if _, ok := ctx.Deadline(); !ok {
			s.closeConnLocked()
		}
		s.mu.Unlock()

		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				s.mu.Lock()
				s.closeConnLocked()
				s.mu.Unlock()
				<-done
			}
		}
		s.setState(StateIdle)
	})
	return err
}

func (s *Server) closeConnLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Server) run(ln net.Listener) {
	defer close(s.done)

	bo := s.newBackOff()
	for s.active.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if !s.active.Load() {
				return
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				s.logger.Error("accept failed, no collector can connect this session", "error", err)
				s.setState(StateClosed)
				<-s.stopCh
				return
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-s.stopCh:
				return
			}
			continue
		}
		bo.Reset()

		if !s.setConn(conn) {
			_ = conn.Close()
			return
		}
		s.serve(conn)
		s.setConn(nil)

		if !s.active.Load() {
			return
		}
		if !s.reconnect {
			s.setState(StateClosed)
			s.logger.Warn("collector disconnected, discarding further events")
			s.discard()
			return
		}
		s.setState(StateListening)
		s.logger.Info("waiting for incoming connections", "addr", ln.Addr().String())
	}
}

func (s *Server) setConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != nil && !s.active.Load() {
		return false
	}
	s.conn = conn
	return true
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	_, span := s.tracer.Start(
		context.Background(),
		"session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("client.address", remote)),
	)
	var sent int
	defer func() {
		span.SetAttributes(attribute.Int("mtrace.events_sent", sent))
		span.End()
	}()

	s.setState(StateConnected)
	s.metrics.Connections.Inc()
	s.logger.Info("connection accepted", "remote", remote)

	if _, err := io.WriteString(conn, Greeting(s.name)); err != nil {
		s.fail(span, "failed to send greeting", err, 0)
		return
	}

	ticker := time.NewTicker(s.idleWait)
	defer ticker.Stop()

	for {
		if batch := s.queue.DrainAll(); len(batch) > 0 {
			n, err := s.write(conn, batch)
			sent += n
			if err != nil {
				s.queue.Requeue(batch[n:])
				s.fail(span, "collector write failed", err, len(batch)-n)
				return
			}
			continue
		}

		if !s.active.Load() {
			s.logger.Debug("queue flushed, closing connection", "remote", remote, "sent", sent)
			return
		}

		select {
		case <-s.queue.Ready():
		case <-s.stopCh:
		case <-ticker.C:
		}
	}
}

func (s *Server) fail(span trace.Span, msg string, err error, unsent int) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.Warn(msg, "error", err, "unsent", unsent)
}

// write sends batch in one vectored write and returns how many events were
// written completely. An event cut short by a failed write is not counted:
// the caller requeues it whole, so a later collector receives the full line
// while the failed peer may have seen a torn one.
func (s *Server) write(conn net.Conn, batch []event.Event) (int, error) {
	bufs := make(net.Buffers, len(batch))
	for i, e := range batch {
		bufs[i] = e
	}

	written, err := bufs.WriteTo(conn)
	if err == nil {
		s.metrics.EventsSent.Add(float64(len(batch)))
		return len(batch), nil
	}

	var n int
	for _, e := range batch {
		if written < int64(len(e)) {
			break
		}
		written -= int64(len(e))
		n++
	}
	s.metrics.EventsSent.Add(float64(n))
	return n, err
}

// discard drops queued events until Stop.
func (s *Server) discard() {
	ticker := time.NewTicker(s.idleWait)
	defer ticker.Stop()
	for {
		s.queue.Discard()
		select {
		case <-s.stopCh:
			s.queue.Discard()
			return
		case <-s.queue.Ready():
		case <-ticker.C:
		}
	}
}
