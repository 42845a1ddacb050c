package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/protocol"
)

// RateLimitConfig defines the per-session request budget.
type RateLimitConfig struct {
	RequestsPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// DefaultRateLimitConfig allows 100 requests per second with a burst of 200.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, Burst: 200, Enabled: true}
}

type Config struct {
	RateLimit RateLimitConfig
	// CheckOrigin validates WebSocket upgrade requests. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// Server accepts connections and runs a Session for each.
type Server struct {
	cfg      Config
	handler  Handler
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	sessions  map[*Session]struct{}
	wg        sync.WaitGroup
}

func New(cfg Config, handler Handler, log zerolog.Logger) *Server {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[*Session]struct{}),
	}
}

// ListenAndServeTLS listens on addr and serves TLS connections using the
// given certificate and key files.
func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	tlsLn := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	return s.Serve(tlsLn)
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	s.log.Info().Str("addr", ln.Addr().String()).Msg("accepting connections")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		metrics.ConnectionsTotal.WithLabelValues("tls").Inc()
		s.serve(protocol.NewStream(conn))
	}
}

// ServeWebSocket upgrades an HTTP request and serves the connection over
// WebSocket, one frame per binary message.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	metrics.ConnectionsTotal.WithLabelValues("websocket").Inc()
	s.serve(protocol.NewWebSocket(conn))
}

func (s *Server) serve(t protocol.Transport) {
	var limiter *rate.Limiter
	if rl := s.cfg.RateLimit; rl.Enabled {
		limiter = rate.NewLimiter(rl.RequestsPerSecond, rl.Burst)
	}
	sess := NewSession(t, s.handler, limiter, s.log)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_ = sess.Run()

		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()
}

// Len returns the number of open sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting, closes every session and waits for them to finish
// or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for ln := range s.listeners {
		_ = ln.Close()
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}
