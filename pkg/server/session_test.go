package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/pubsub"
)

type result struct {
	err error
}

// startSession runs a session over one end of a pipe and returns the other
// end as a client transport.
func startSession(t *testing.T, h Handler, limiter *rate.Limiter) (protocol.Transport, *Session, <-chan result) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	sess := NewSession(protocol.NewStream(serverConn), h, limiter, zerolog.Nop())
	done := make(chan result, 1)
	go func() { done <- result{err: sess.Run()} }()

	client := protocol.NewStream(clientConn)
	t.Cleanup(func() { client.Close() })
	return client, sess, done
}

func send(t *testing.T, c protocol.Transport, id uint32, subscribed bool, rt protocol.RequestType, data any) {
	t.Helper()
	req, err := protocol.NewRequest(rt, data)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if err := c.WriteEnvelope(protocol.Envelope{ID: id, Subscribed: subscribed, Request: req}); err != nil {
		t.Fatalf("WriteEnvelope() error = %v", err)
	}
}

func receive(t *testing.T, c protocol.Transport) protocol.Envelope {
	t.Helper()
	type read struct {
		env protocol.Envelope
		err error
	}
	ch := make(chan read, 1)
	go func() {
		env, err := c.ReadEnvelope()
		ch <- read{env, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("ReadEnvelope() error = %v", r.err)
		}
		return r.env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
	}
	return protocol.Envelope{}
}

func waitRun(t *testing.T, done <-chan result) error {
	t.Helper()
	select {
	case r := <-done:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	return nil
}

func message(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Request.Data, &body); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return body.Message
}

var echo = HandlerFunc(func(_ context.Context, _ Conn, req protocol.Request, _ uint32, _ bool) (protocol.Request, error) {
	return req, nil
})

func TestSessionRepliesWithCorrelationID(t *testing.T) {
	t.Parallel()

	client, _, done := startSession(t, echo, nil)

	send(t, client, 41, false, protocol.GetGuilds, map[string]int{"a": 1})
	send(t, client, 42, true, protocol.ChannelSubscription, map[string]int{"b": 2})

	first := receive(t, client)
	second := receive(t, client)
	if first.ID != 41 || first.Subscribed || first.Request.Type != protocol.GetGuilds {
		t.Errorf("first reply = %+v", first)
	}
	if second.ID != 42 || !second.Subscribed || second.Request.Type != protocol.ChannelSubscription {
		t.Errorf("second reply = %+v", second)
	}

	client.Close()
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() after orderly close = %v, want nil", err)
	}
}

func TestSessionHandlerFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler HandlerFunc
	}{
		{
			name: "error",
			handler: func(context.Context, Conn, protocol.Request, uint32, bool) (protocol.Request, error) {
				return protocol.Request{}, errors.New("boom")
			},
		},
		{
			name: "panic",
			handler: func(context.Context, Conn, protocol.Request, uint32, bool) (protocol.Request, error) {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _, _ := startSession(t, tt.handler, nil)
			send(t, client, 7, false, protocol.GetGuilds, map[string]any{})

			reply := receive(t, client)
			if reply.ID != 7 || reply.Request.Type != protocol.Error {
				t.Fatalf("reply = %+v, want Error with id 7", reply)
			}
			if got := message(t, reply); got != "Internal server error" {
				t.Errorf("message = %q, want Internal server error", got)
			}

			// Session survives and keeps answering
			send(t, client, 8, false, protocol.GetGuilds, map[string]any{})
			if reply := receive(t, client); reply.ID != 8 {
				t.Errorf("second reply id = %d, want 8", reply.ID)
			}
		})
	}
}

func TestSessionAfterReplyOrdering(t *testing.T) {
	t.Parallel()

	h := HandlerFunc(func(_ context.Context, c Conn, req protocol.Request, id uint32, _ bool) (protocol.Request, error) {
		c.AfterReply(func() {
			push, _ := protocol.NewRequest(protocol.ChannelSubscription, map[string]string{"push": "yes"})
			_ = c.Push(protocol.Envelope{ID: id, Subscribed: true, Request: push})
		})
		return req, nil
	})
	client, _, _ := startSession(t, h, nil)

	send(t, client, 3, true, protocol.ChannelSubscription, map[string]string{"subtype": "subscribe"})

	reply := receive(t, client)
	push := receive(t, client)
	if string(reply.Request.Data) != `{"subtype":"subscribe"}` {
		t.Errorf("first envelope = %s, want the reply", reply.Request.Data)
	}
	if string(push.Request.Data) != `{"push":"yes"}` {
		t.Errorf("second envelope = %s, want the push", push.Request.Data)
	}
}

func TestSessionTeardownStopsSubscription(t *testing.T) {
	t.Parallel()

	reg := pubsub.NewRegistry(10)
	h := HandlerFunc(func(_ context.Context, c Conn, req protocol.Request, id uint32, _ bool) (protocol.Request, error) {
		sub := pubsub.NewSubscription(id, 7, 1, c, zerolog.Nop())
		if _, err := reg.Subscribe(sub, 0); err != nil {
			return protocol.Request{}, err
		}
		c.SetSubscription(sub)
		return req, nil
	})
	client, sess, done := startSession(t, h, nil)

	send(t, client, 1, true, protocol.ChannelSubscription, map[string]any{})
	receive(t, client)
	if reg.Len() != 1 {
		t.Fatalf("registry Len() = %d, want 1", reg.Len())
	}

	client.Close()
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len() after teardown = %d, want 0", reg.Len())
	}
	if sess.Subscription() != nil {
		t.Error("session kept its subscription after teardown")
	}
	if err := sess.Push(protocol.Envelope{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Push() after teardown = %v, want ErrSessionClosed", err)
	}
}

func TestSessionRateLimit(t *testing.T) {
	t.Parallel()

	client, _, done := startSession(t, echo, rate.NewLimiter(rate.Every(time.Hour), 1))

	send(t, client, 1, false, protocol.GetGuilds, map[string]any{})
	receive(t, client)

	// The writer is idle, so this write completes once the reader takes it
	go func() {
		req, _ := protocol.NewRequest(protocol.GetGuilds, map[string]any{})
		_ = client.WriteEnvelope(protocol.Envelope{ID: 2, Request: req})
	}()

	if err := waitRun(t, done); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Run() = %v, want ErrRateLimited", err)
	}
}

func TestSessionMalformedFrame(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	sess := NewSession(protocol.NewStream(serverConn), echo, nil, zerolog.Nop())
	done := make(chan result, 1)
	go func() { done <- result{err: sess.Run()} }()
	defer clientConn.Close()

	body := "1\nmaybe\nGetGuilds\n{}"
	frame := append([]byte{0, 0, 0, byte(len(body))}, body...)
	go func() { _, _ = clientConn.Write(frame) }()

	if err := waitRun(t, done); !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("Run() = %v, want ErrMalformedFrame", err)
	}
}

func TestSessionCloseFromServer(t *testing.T) {
	t.Parallel()

	client, sess, done := startSession(t, echo, nil)
	go func() {
		// Drain the close frame so the pipe write does not block
		_, _ = client.ReadEnvelope()
	}()

	if err := sess.Close(); err != nil {
		t.Logf("Close() = %v", err)
	}
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() after Close = %v, want nil", err)
	}
}
