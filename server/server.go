// Package server implements the streaming server: the control protocol
// state machine for each connection and the pump that sends frames to the
// client as fragmented RTP datagrams.
package server

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/rtspcast/config"
	"github.com/opd-ai/rtspcast/metrics"
	"github.com/opd-ai/rtspcast/source"
	"github.com/sirupsen/logrus"
)

// Server accepts control connections and streams frames to their clients.
type Server struct {
	cfg     config.Server
	opener  source.Opener
	metrics *metrics.Server
	clock   func() time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    map[*connHandler]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records server activity in m.
func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides the clock used for RTP timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// New creates a server. A nil opener serves files from cfg.MediaDir.
func New(cfg config.Server, opener source.Opener, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		opener = source.DirOpener(cfg.MediaDir, cfg.Loop)
	}
	s := &Server{
		cfg:    cfg,
		opener: opener,
		conns:  make(map[*connHandler]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is
// called. It waits for every connection handler to finish before
// returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Server.Serve",
		"addr":     ln.Addr().String(),
	}).Info("Control server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			logrus.WithFields(logrus.Fields{
				"function": "Server.Serve",
				"error":    err.Error(),
			}).Warn("Accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		h := newConnHandler(ctx, s, conn)
		if !s.track(h) {
			conn.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			h.serve()
		}()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections and closes the open ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	conns := make([]*connHandler, 0, len(s.conns))
	for h := range s.conns {
		conns = append(conns, h)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, h := range conns {
		h.conn.Close()
	}
	return err
}

// Sessions returns a snapshot of the active sessions ordered by id.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	conns := make([]*connHandler, 0, len(s.conns))
	for h := range s.conns {
		conns = append(conns, h)
	}
	s.mu.Unlock()

	sessions := make([]SessionInfo, 0, len(conns))
	for _, h := range conns {
		if info, ok := h.info(); ok {
			sessions = append(sessions, info)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

func (s *Server) track(h *connHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[h] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) forget(h *connHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, h)
}
