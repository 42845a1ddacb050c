package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mahaj/lytecord/pkg/protocol"
)

// pipeMux starts a multiplexer over one end of a pipe and returns the other
// end for the test to play the server.
func pipeMux(t *testing.T, opts ...MuxOption) (*Mux, protocol.Transport) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	m := NewMux(protocol.NewStream(clientConn), opts...)
	m.Start()

	server := protocol.NewStream(serverConn)
	t.Cleanup(func() {
		go drain(server)
		m.Close()
		server.Close()
	})
	return m, server
}

func drain(t protocol.Transport) {
	for {
		if _, err := t.ReadEnvelope(); err != nil {
			return
		}
	}
}

func request(t *testing.T, rt protocol.RequestType, data any) protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(rt, data)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func read(t *testing.T, tr protocol.Transport) protocol.Envelope {
	t.Helper()
	ch := make(chan protocol.Envelope, 1)
	go func() {
		env, err := tr.ReadEnvelope()
		if err != nil {
			t.Errorf("ReadEnvelope: %v", err)
		}
		ch <- env
	}()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading a request")
	}
	return protocol.Envelope{}
}

func write(t *testing.T, tr protocol.Transport, id uint32, subscribed bool, req protocol.Request) {
	t.Helper()
	if err := tr.WriteEnvelope(protocol.Envelope{ID: id, Subscribed: subscribed, Request: req}); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
}

func collect() (Callback, <-chan protocol.Request) {
	ch := make(chan protocol.Request, 16)
	return func(res protocol.Request) { ch <- res }, ch
}

func next(t *testing.T, ch <-chan protocol.Request) protocol.Request {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a callback")
	}
	return protocol.Request{}
}

func messageOf(t *testing.T, res protocol.Request) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := res.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Message
}

func TestMuxRequestCorrelation(t *testing.T) {
	t.Parallel()
	m, server := pipeMux(t, WithTimeout(0))

	cb, got := collect()
	if err := m.Request(request(t, protocol.GetGuilds, map[string]any{}), cb); err != nil {
		t.Fatalf("Request: %v", err)
	}

	env := read(t, server)
	if env.Subscribed || env.Request.Type != protocol.GetGuilds {
		t.Fatalf("server got (%v, %s)", env.Subscribed, env.Request.Type)
	}

	reply := request(t, protocol.GetGuilds, map[string]string{"message": "first"})
	write(t, server, env.ID, false, reply)
	// A duplicate for the same id is ignored
	write(t, server, env.ID, false, request(t, protocol.GetGuilds, map[string]string{"message": "duplicate"}))

	if msg := messageOf(t, next(t, got)); msg != "first" {
		t.Errorf("callback got %q, want first", msg)
	}

	cb2, got2 := collect()
	if err := m.Request(request(t, protocol.GetChannels, map[string]any{}), cb2); err != nil {
		t.Fatalf("Request: %v", err)
	}
	env2 := read(t, server)
	if env2.ID == env.ID {
		t.Errorf("second request reused id %d", env.ID)
	}
	write(t, server, env2.ID, false, request(t, protocol.GetChannels, map[string]string{"message": "second"}))
	if msg := messageOf(t, next(t, got2)); msg != "second" {
		t.Errorf("second callback got %q", msg)
	}

	select {
	case res := <-got:
		t.Errorf("first callback fired again with %s", res)
	default:
	}
}

func TestMuxRequestTimeout(t *testing.T) {
	t.Parallel()
	m, server := pipeMux(t, WithTimeout(50*time.Millisecond))

	cb, got := collect()
	if err := m.Request(request(t, protocol.GetGuilds, map[string]any{}), cb); err != nil {
		t.Fatalf("Request: %v", err)
	}
	env := read(t, server)

	res := next(t, got)
	if res.Type != protocol.Error || messageOf(t, res) != "Request timed out" {
		t.Fatalf("timeout callback = %s", res)
	}

	// Late response
	write(t, server, env.ID, false, request(t, protocol.GetGuilds, map[string]string{"message": "late"}))
	select {
	case res := <-got:
		t.Errorf("late response dispatched: %s", res)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMuxCloseFailsPending(t *testing.T) {
	t.Parallel()
	m, server := pipeMux(t, WithTimeout(0))

	cb, got := collect()
	if err := m.Request(request(t, protocol.GetGuilds, map[string]any{}), cb); err != nil {
		t.Fatalf("Request: %v", err)
	}
	read(t, server)

	if err := m.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	res := next(t, got)
	if res.Type != protocol.Error || messageOf(t, res) != "Connection closed" {
		t.Errorf("callback after close = %s", res)
	}

	if err := m.Request(request(t, protocol.GetGuilds, map[string]any{}), cb); !errors.Is(err, ErrClosed) {
		t.Errorf("Request after close = %v, want ErrClosed", err)
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v after orderly close", m.Err())
	}
}

func TestMuxStopsOnServerClose(t *testing.T) {
	t.Parallel()
	m, server := pipeMux(t)

	server.Close()
	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("mux did not stop after the server closed")
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil for an orderly close", m.Err())
	}
}

func TestMuxSubscription(t *testing.T) {
	t.Parallel()
	m, server := pipeMux(t, WithTimeout(0))

	cb, pushes := collect()
	id, err := m.Subscribe(request(t, protocol.ChannelSubscription, map[string]string{"subtype": "subscribe"}), cb)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	env := read(t, server)
	if !env.Subscribed || env.ID != id {
		t.Fatalf("server got (%d, %v), want (%d, true)", env.ID, env.Subscribed, id)
	}

	for _, text := range []string{"confirm", "one", "two"} {
		write(t, server, id, true, request(t, protocol.ChannelSubscription, map[string]string{"message": text}))
	}
	for _, want := range []string{"confirm", "one", "two"} {
		if msg := messageOf(t, next(t, pushes)); msg != want {
			t.Errorf("push %q, want %q", msg, want)
		}
	}

	unsubCB, unsubGot := collect()
	if err := m.Unsubscribe(id, request(t, protocol.ChannelSubscription, map[string]string{"subtype": "unsubscribe"}), unsubCB); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	unsub := read(t, server)
	if unsub.Subscribed {
		t.Error("unsubscribe request sent with subscribed=true")
	}

	write(t, server, id, true, request(t, protocol.ChannelSubscription, map[string]string{"message": "after"}))
	write(t, server, unsub.ID, false, request(t, protocol.ChannelSubscription, map[string]string{"message": "Unsubscribed"}))
	next(t, unsubGot)

	select {
	case res := <-pushes:
		t.Errorf("push after unsubscribe: %s", res)
	default:
	}
}

func TestMuxDispatcher(t *testing.T) {
	t.Parallel()

	loop := make(chan func(), 4)
	m, server := pipeMux(t, WithTimeout(0), WithDispatcher(func(fn func()) { loop <- fn }))

	cb, got := collect()
	if err := m.Request(request(t, protocol.GetGuilds, map[string]any{}), cb); err != nil {
		t.Fatalf("Request: %v", err)
	}
	env := read(t, server)
	write(t, server, env.ID, false, request(t, protocol.GetGuilds, map[string]string{"message": "ok"}))

	var fn func()
	select {
	case fn = <-loop:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not posted to the dispatcher")
	}
	select {
	case <-got:
		t.Fatal("callback ran before the dispatcher ran it")
	default:
	}

	fn()
	if msg := messageOf(t, next(t, got)); msg != "ok" {
		t.Errorf("callback got %q", msg)
	}
}
