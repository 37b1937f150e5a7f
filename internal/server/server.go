// Package server implements the LD/1.0 directory listing server.
// It accepts connections on a TCP port and hands each one to its own worker.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/Zycon42/list-dir/internal/history"
	"github.com/Zycon42/list-dir/internal/listing"
	"github.com/Zycon42/list-dir/internal/protocol"
	"github.com/Zycon42/list-dir/internal/socket"
)

const (
	// DefaultShutdownGrace bounds how long Serve waits for in-flight workers.
	DefaultShutdownGrace = 5 * time.Second

	// completionQueueSize is the capacity of the worker completion channel.
	completionQueueSize = 1024

	// maxAcceptBackoff caps the delay after descriptor exhaustion.
	maxAcceptBackoff = time.Second

	// badRequestLinger bounds how long a rejected request is drained so the
	// client reads the error status instead of a reset.
	badRequestLinger = time.Second
)

// Recorder persists handled requests. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, r history.Record) error
}

var _ Recorder = (*history.Store)(nil)

// Config contains configuration options for the server.
type Config struct {
	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger

	// History records every handled request (optional)
	History Recorder

	// HealthAddr enables the gRPC health endpoint on this address (optional)
	HealthAddr string

	// IOTimeout bounds each send and receive on client connections.
	// Default: none
	IOTimeout time.Duration

	// MaxRequestBytes bounds the request line. Default: none
	MaxRequestBytes int

	// ShutdownGrace bounds the wait for in-flight workers on shutdown.
	// Zero does not wait; a negative value selects DefaultShutdownGrace.
	ShutdownGrace time.Duration
}

// Server accepts LD/1.0 clients.
type Server struct {
	port          int
	logger        *slog.Logger
	history       Recorder
	healthAddr    string
	connOpts      socket.Options
	shutdownGrace time.Duration

	mu       sync.Mutex
	listener *socket.Connection
	health   *Health

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	ready        chan struct{}

	workers   sync.WaitGroup
	completed chan completion
	active    atomic.Int64
	served    atomic.Int64
}

// completion is what a worker reports back to the acceptor.
type completion struct {
	id       string
	remote   string
	status   protocol.Status
	entries  int
	err      error
	duration time.Duration
}

// NewServer creates a server with the given configuration.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxRequestBytes < 0 {
		return nil, fmt.Errorf("invalid max request size %d", cfg.MaxRequestBytes)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	grace := cfg.ShutdownGrace
	if grace < 0 {
		grace = DefaultShutdownGrace
	}

	return &Server{
		port:       cfg.Port,
		logger:     logger,
		history:    cfg.History,
		healthAddr: cfg.HealthAddr,
		connOpts: socket.Options{
			IOTimeout:     cfg.IOTimeout,
			MaxLineLength: cfg.MaxRequestBytes,
			Logger:        logger,
		},
		shutdownGrace: grace,
		ready:         make(chan struct{}),
		completed:     make(chan completion, completionQueueSize),
	}, nil
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Port returns the bound port while the server is listening.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Port()
}

// HealthAddr returns the address of the health endpoint, if enabled.
func (s *Server) HealthAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.health == nil {
		return ""
	}
	return s.health.Addr()
}

// Active returns the number of running workers.
func (s *Server) Active() int64 { return s.active.Load() }

// Served returns the number of connections handled so far.
func (s *Server) Served() int64 { return s.served.Load() }

// Serve listens and accepts clients until Shutdown is called or ctx is
// canceled. It returns nil after a clean shutdown. Serve must be called at
// most once.
func (s *Server) Serve(ctx context.Context) error {
	ln := socket.NewConnection(s.connOpts)
	if err := ln.Listen(s.port); err != nil {
		return err
	}

	var health *Health
	if s.healthAddr != "" {
		h, err := StartHealth(s.healthAddr, s.logger)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to start health endpoint: %w", err)
		}
		health = h
	}

	s.mu.Lock()
	s.listener = ln
	s.health = health
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	if health != nil {
		health.SetServing(true)
	}
	s.logger.Info("server listening", "port", ln.Port())
	close(s.ready)

	err := s.acceptLoop(ln)

	s.drain()

	s.mu.Lock()
	s.listener = nil
	s.health = nil
	s.mu.Unlock()

	if health != nil {
		health.Stop()
	}
	if cerr := ln.Close(); cerr != nil {
		s.logger.Warn("failed to close listener", "error", cerr)
	}
	s.logger.Info("server stopped", "served", s.Served())
	return err
}

func (s *Server) acceptLoop(ln *socket.Connection) error {
	var backoff time.Duration
	for !s.shuttingDown.Load() {
		s.reap()

		conn, err := ln.Accept()
		if errors.Is(err, socket.ErrInterrupted) {
			continue
		}
		if isTemporaryAcceptError(err) {
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed, retrying", "error", err, "delay", backoff)
			time.Sleep(backoff)
			continue
		}
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		id := uuid.NewString()
		s.workers.Add(1)
		s.active.Add(1)
		go s.handleClient(id, conn)
	}
	return nil
}

func isTemporaryAcceptError(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}

// Shutdown stops accepting new clients. In-flight workers are given
// ShutdownGrace to finish before Serve returns.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("server shutting down")
		s.shuttingDown.Store(true)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.health != nil {
			s.health.SetServing(false)
		}
		if s.listener != nil {
			if err := s.listener.Interrupt(); err != nil {
				s.logger.Warn("failed to interrupt accept", "error", err)
			}
		}
	})
}

// reap collects finished workers without blocking.
func (s *Server) reap() {
	for {
		select {
		case c := <-s.completed:
			s.logCompletion(c)
		default:
			return
		}
	}
}

// drain waits up to the shutdown grace period for in-flight workers.
func (s *Server) drain() {
	if s.shutdownGrace == 0 {
		if n := s.Active(); n > 0 {
			s.logger.Warn("not waiting for running workers", "active", n)
		}
		s.reap()
		return
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.logger.Warn("workers still running after grace period", "active", s.Active())
	}
	s.reap()
}

func (s *Server) logCompletion(c completion) {
	attrs := []any{
		"id", c.id,
		"remote", c.remote,
		"status", c.status.String(),
		"entries", c.entries,
		"duration", c.duration,
	}
	if c.err != nil {
		s.logger.Debug("worker failed", append(attrs, "error", c.err)...)
		return
	}
	s.logger.Debug("worker finished", attrs...)
}

// handleClient serves one connection end to end: decode the request, list
// the directory, encode the response and close.
func (s *Server) handleClient(id string, conn *socket.Connection) {
	started := time.Now()
	c := completion{id: id, remote: conn.RemoteAddr()}
	path := ""
	closeConn := conn.Close

	defer func() {
		if err := closeConn(); err != nil {
			s.logger.Debug("failed to close client connection", "id", id, "error", err)
		}
		c.duration = time.Since(started)
		s.record(c, path, started)

		s.served.Add(1)
		s.active.Add(-1)
		select {
		case s.completed <- c:
		default:
			s.logger.Warn("completion queue full, dropping record", "id", id)
		}
		s.workers.Done()
	}()

	var resp *protocol.Response
	req, err := protocol.ReadRequest(conn)
	var pe *protocol.ProtocolError
	switch {
	case err == nil:
		path = req.Path
		status, entries := listing.DirectoryContents(path)
		resp = protocol.NewResponse(status, s.frameable(id, entries))
	case errors.As(err, &pe):
		s.logger.Debug("malformed request", "id", id, "remote", c.remote, "error", err)
		c.err = err
		resp = protocol.NewResponse(protocol.StatusBadRequest, nil)
		// the rest of the request may still be unread
		closeConn = func() error { return conn.CloseGracefully(badRequestLinger) }
	default:
		c.err = err
		c.status = protocol.StatusInternal
		s.logger.Debug("failed to read request", "id", id, "remote", c.remote, "error", err)
		return
	}

	c.status = resp.Status
	c.entries = len(resp.Entries)
	if err := protocol.WriteResponse(conn, resp); err != nil {
		c.err = err
		s.logger.Debug("failed to send response", "id", id, "remote", c.remote, "error", err)
	}
}

// frameable drops names that cannot be sent as a single line.
func (s *Server) frameable(id string, entries []string) []string {
	out := entries[:0]
	for _, e := range entries {
		if strings.ContainsRune(e, '\n') {
			s.logger.Warn("skipping entry with newline in name", "id", id, "name", e)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Server) record(c completion, path string, started time.Time) {
	if s.history == nil {
		return
	}
	r := history.Record{
		ID:        c.id,
		Remote:    c.remote,
		Path:      path,
		Status:    c.status,
		Entries:   c.entries,
		StartedAt: started,
		Duration:  c.duration,
	}
	if c.err != nil {
		r.Error = c.err.Error()
	}
	if err := s.history.Record(context.Background(), r); err != nil {
		s.logger.Warn("failed to record request", "id", c.id, "error", err)
	}
}
