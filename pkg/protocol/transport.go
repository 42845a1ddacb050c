package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeWait bounds how long Close waits to announce an orderly close.
const closeWait = time.Second

// Transport carries envelopes over one connection. ReadEnvelope must only be
// called from one goroutine; WriteEnvelope is safe for concurrent use and
// never interleaves frames.
type Transport interface {
	ReadEnvelope() (Envelope, error)
	WriteEnvelope(env Envelope) error
	Close() error
	RemoteAddr() string
}

type stream struct {
	conn      net.Conn
	r         *bufio.Reader
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStream frames envelopes over a byte stream such as a *tls.Conn.
func NewStream(conn net.Conn) Transport {
	return &stream{conn: conn, r: bufio.NewReader(conn)}
}

func (s *stream) ReadEnvelope() (Envelope, error) {
	return ReadEnvelope(s.r)
}

func (s *stream) WriteEnvelope(env Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends the zero length prefix and closes the connection.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		// Unblocks a writer stuck on a slow peer
		_ = s.conn.SetWriteDeadline(time.Now().Add(closeWait))

		s.wmu.Lock()
		_, _ = s.conn.Write(closeFrame)
		s.wmu.Unlock()

		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *stream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

type wsTransport struct {
	conn      *websocket.Conn
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket carries one complete frame, length prefix included, per binary
// WebSocket message.
func NewWebSocket(conn *websocket.Conn) Transport {
	conn.SetReadLimit(MaxFrameSize + headerSize)
	return &wsTransport{conn: conn}
}

func (w *wsTransport) ReadEnvelope() (Envelope, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) {
				return Envelope{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return Envelope{}, readError(err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		r := bytes.NewReader(data)
		body, err := ReadFrame(r)
		if err != nil {
			return Envelope{}, err
		}
		if r.Len() != 0 {
			return Envelope{}, fmt.Errorf("%w: %d trailing bytes after frame", ErrMalformedFrame, r.Len())
		}
		return Decode(body)
	}
}

func (w *wsTransport) WriteEnvelope(env Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (w *wsTransport) Close() error {
	w.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWait))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func (w *wsTransport) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
