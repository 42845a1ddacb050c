package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
)

func mustRequest(t *testing.T, rt RequestType, data any) Request {
	t.Helper()
	req, err := NewRequest(rt, data)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return req
}

func TestEncodeExactBytes(t *testing.T) {
	t.Parallel()

	env := Envelope{ID: 12, Subscribed: true, Request: Request{Type: GetGuilds, Data: []byte(`{}`)}}
	got, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	body := "12\nTrue\nGetGuilds\n{}"
	want := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(want, uint32(len(body)))
	want = append(want, body...)

	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  Envelope
	}{
		{
			name: "one-shot",
			env:  Envelope{ID: 0, Request: Request{Type: Authenticate, Data: []byte(`{"username":"alice"}`)}},
		},
		{
			name: "subscribed",
			env:  Envelope{ID: 4294967295, Subscribed: true, Request: Request{Type: ChannelSubscription, Data: []byte(`{"id":7}`)}},
		},
		{
			name: "payload containing newlines",
			env:  Envelope{ID: 3, Request: Request{Type: SendMessage, Data: []byte("{\"content\":\"a\\nb\"}")}},
		},
		{
			name: "unicode",
			env:  Envelope{ID: 9, Request: Request{Type: SendMessage, Data: []byte(`{"content":"héllo 世界"}`)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame, err := Encode(tt.env)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := ReadEnvelope(bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("ReadEnvelope() error = %v", err)
			}

			if got.ID != tt.env.ID || got.Subscribed != tt.env.Subscribed || got.Request.Type != tt.env.Request.Type {
				t.Errorf("header = (%d, %v, %s), want (%d, %v, %s)",
					got.ID, got.Subscribed, got.Request.Type, tt.env.ID, tt.env.Subscribed, tt.env.Request.Type)
			}
			if !bytes.Equal(got.Request.Data, tt.env.Request.Data) {
				t.Errorf("payload = %s, want %s", got.Request.Data, tt.env.Request.Data)
			}
		})
	}
}

func TestReadFramePartialReads(t *testing.T) {
	t.Parallel()

	req := mustRequest(t, SendMessage, map[string]string{"content": strings.Repeat("x", 4096)})
	frame, err := Encode(Envelope{ID: 5, Request: req})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := ReadEnvelope(iotest.OneByteReader(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("ReadEnvelope() error = %v", err)
	}
	if got.ID != 5 || !bytes.Equal(got.Request.Data, req.Data) {
		t.Errorf("ReadEnvelope() = %v, want id 5 with the sent payload", got)
	}
}

func TestReadFrameConnectionClosed(t *testing.T) {
	t.Parallel()

	frame, _ := Encode(Envelope{ID: 1, Request: Request{Type: GetGuilds, Data: []byte(`{}`)}})

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "zero length prefix", input: []byte{0, 0, 0, 0}},
		{name: "empty stream", input: nil},
		{name: "truncated header", input: []byte{0, 0}},
		{name: "truncated body", input: frame[:len(frame)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ReadFrame(bytes.NewReader(tt.input))
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("ReadFrame() error = %v, want ErrConnectionClosed", err)
			}
		})
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	t.Parallel()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "too few fields", body: "1\nTrue\nGetGuilds"},
		{name: "non numeric id", body: "abc\nFalse\nGetGuilds\n{}"},
		{name: "negative id", body: "-1\nFalse\nGetGuilds\n{}"},
		{name: "id overflow", body: "4294967296\nFalse\nGetGuilds\n{}"},
		{name: "lowercase flag", body: "1\ntrue\nGetGuilds\n{}"},
		{name: "unknown type", body: "1\nFalse\nDeleteEverything\n{}"},
		{name: "array payload", body: "1\nFalse\nGetGuilds\n[]"},
		{name: "invalid json", body: "1\nFalse\nGetGuilds\n{"},
		{name: "invalid utf8", body: "1\nFalse\nGetGuilds\n{\"a\":\"\xff\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tt.body))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformedFrame", tt.body, err)
			}
		})
	}
}

func TestEncodeRejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := Encode(Envelope{Request: Request{Type: Error, Data: []byte(`"text"`)}})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Encode() error = %v, want ErrMalformedFrame", err)
	}

	if _, err := NewRequest(Error, []int{1}); err == nil {
		t.Error("NewRequest() accepted a JSON array")
	}
}

// countingWriter records every Write call so tests can assert single-write framing.
type countingWriter struct {
	mu     sync.Mutex
	writes [][]byte
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestWriteEnvelopeSingleWrite(t *testing.T) {
	t.Parallel()

	w := &countingWriter{}
	req := mustRequest(t, SendMessage, map[string]string{"content": "hi"})
	if err := WriteEnvelope(w, Envelope{ID: 2, Request: req}); err != nil {
		t.Fatalf("WriteEnvelope() error = %v", err)
	}
	if len(w.writes) != 1 {
		t.Fatalf("WriteEnvelope() made %d writes, want 1", len(w.writes))
	}
	if _, err := ReadEnvelope(bytes.NewReader(w.writes[0])); err != nil {
		t.Errorf("written frame does not decode: %v", err)
	}
}

func TestStreamConcurrentWriters(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	sender := NewStream(client)
	receiver := NewStream(server)
	defer receiver.Close()

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				req, err := NewRequest(SendMessage, map[string]int{"writer": w, "seq": i})
				if err != nil {
					t.Errorf("NewRequest() error = %v", err)
					return
				}
				if err := sender.WriteEnvelope(Envelope{ID: uint32(w*perWriter + i), Request: req}); err != nil {
					t.Errorf("WriteEnvelope() error = %v", err)
					return
				}
			}
		}(w)
	}

	seen := make(map[uint32]bool)
	for len(seen) < writers*perWriter {
		env, err := receiver.ReadEnvelope()
		if err != nil {
			t.Fatalf("ReadEnvelope() error = %v after %d frames", err, len(seen))
		}
		seen[env.ID] = true
	}
	wg.Wait()

	// Close announces itself with a zero length prefix
	go sender.Close()
	if _, err := receiver.ReadEnvelope(); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadEnvelope() after Close error = %v, want ErrConnectionClosed", err)
	}
}

func TestStreamPeerGone(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	receiver := NewStream(server)
	client.Close()

	_, err := receiver.ReadEnvelope()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadEnvelope() error = %v, want ErrConnectionClosed", err)
	}
}
