package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/pubsub"
)

const outboxSize = 256

var tracer = otel.Tracer("github.com/mahaj/lytecord/pkg/server")

// Session serves one client connection. The reader runs in the goroutine
// calling Run and a writer goroutine drains the outbox.
type Session struct {
	id        string
	transport protocol.Transport
	handler   Handler
	limiter   *rate.Limiter
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out        chan protocol.Envelope
	done       chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once

	mu         sync.Mutex
	user       *model.User
	sub        *pubsub.Subscription
	afterReply []func()
}

// NewSession wraps t. A nil limiter disables rate limiting.
func NewSession(t protocol.Transport, h Handler, limiter *rate.Limiter, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	return &Session{
		id:         id,
		transport:  t,
		handler:    h,
		limiter:    limiter,
		log:        log.With().Str("session", id).Str("remote_addr", t.RemoteAddr()).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan protocol.Envelope, outboxSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *Session) ID() string               { return s.id }
func (s *Session) RemoteAddr() string       { return s.transport.RemoteAddr() }
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) User() (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

func (s *Session) SetUser(user model.User) {
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user authenticated")
}

func (s *Session) Subscription() *pubsub.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *Session) SetSubscription(sub *pubsub.Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

func (s *Session) AfterReply(fn func()) {
	s.mu.Lock()
	s.afterReply = append(s.afterReply, fn)
	s.mu.Unlock()
}

// Push queues env for the writer. It blocks while the outbox is full and
// fails once the session is closing.
func (s *Session) Push(env protocol.Envelope) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.out <- env:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Run serves the connection until the peer leaves, a protocol error occurs or
// Close is called. An orderly close returns nil.
func (s *Session) Run() error {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	s.log.Info().Msg("client connected")

	go s.writeLoop()
	err := s.readLoop()

	s.stop()
	<-s.writerDone
	if sub := s.Subscription(); sub != nil {
		sub.Stop()
		s.SetSubscription(nil)
	}
	_ = s.transport.Close()

	switch {
	case err == nil:
		s.log.Info().Msg("client disconnected")
	case errors.Is(err, protocol.ErrMalformedFrame), errors.Is(err, protocol.ErrFrameTooLarge):
		s.log.Warn().Err(err).Msg("protocol error, connection terminated")
	case errors.Is(err, ErrRateLimited):
		s.log.Warn().Msg("rate limit exceeded, connection terminated")
	default:
		s.log.Warn().Err(err).Msg("connection lost")
	}
	return err
}

// Close ends the session from outside, unblocking the reader.
func (s *Session) Close() error {
	s.stop()
	return s.transport.Close()
}

func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func (s *Session) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() error {
	for {
		env, err := s.transport.ReadEnvelope()
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) || s.stopping() {
				return nil
			}
			return err
		}

		if s.limiter != nil && !s.limiter.Allow() {
			metrics.RateLimitHits.Inc()
			return ErrRateLimited
		}

		reply := env.Reply(s.dispatch(env))
		if err := s.Push(reply); err != nil {
			return nil
		}
		s.runAfterReply()
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.done:
			return
		case env := <-s.out:
			err := s.transport.WriteEnvelope(env)
			if errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrFrameTooLarge) {
				s.log.Error().Err(err).Str("request_type", string(env.Request.Type)).Msg("dropping unencodable envelope")
				continue
			}
			if err != nil {
				if !s.stopping() {
					s.log.Debug().Err(err).Msg("write failed")
				}
				// Unblocks the reader so teardown can proceed
				s.stop()
				_ = s.transport.Close()
				return
			}
		}
	}
}

func (s *Session) runAfterReply() {
	s.mu.Lock()
	fns := s.afterReply
	s.afterReply = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// dispatch runs the handler, turning errors and panics into an Error reply.
func (s *Session) dispatch(env protocol.Envelope) (reply protocol.Request) {
	reqType := string(env.Request.Type)
	ctx, span := tracer.Start(s.ctx, "lytecord."+reqType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("lytecord.request_type", reqType),
			attribute.Int64("lytecord.request_id", int64(env.ID)),
			attribute.Bool("lytecord.subscribed", env.Subscribed),
			attribute.String("lytecord.session", s.id),
		),
	)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("request_type", reqType).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			span.RecordError(fmt.Errorf("panic: %v", r))
			reply = internalError()
		}

		status := replyStatus(reply)
		if status == "internal" {
			span.SetStatus(codes.Error, "internal server error")
		}
		span.End()

		metrics.RequestsTotal.WithLabelValues(reqType, status).Inc()
		metrics.RequestDuration.WithLabelValues(reqType).Observe(time.Since(start).Seconds())
	}()

	reply, err := s.handler.Handle(ctx, s, env.Request, env.ID, env.Subscribed)
	if err != nil {
		s.log.Error().Err(err).Str("request_type", reqType).Msg("handler failed")
		span.RecordError(err)
		return internalError()
	}
	return reply
}

func internalError() protocol.Request {
	return protocol.Request{
		Type: protocol.Error,
		Data: json.RawMessage(`{"status":"error","message":"Internal server error"}`),
	}
}

// replyStatus labels a reply for metrics.
func replyStatus(reply protocol.Request) string {
	if reply.Type == protocol.Error {
		return "internal"
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(reply.Data, &body); err != nil || body.Status == "" {
		return "unknown"
	}
	return body.Status
}
