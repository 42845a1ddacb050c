package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"unicode/utf8"
)

const (
	headerSize = 4
	// MaxFrameSize bounds a frame body. Attachments are up to 16MB before
	// base64, which is the largest payload the protocol carries.
	MaxFrameSize = 32 * 1024 * 1024
)

var (
	// ErrConnectionClosed is returned on an orderly close (zero length
	// prefix) or when the peer goes away mid-frame.
	ErrConnectionClosed = errors.New("connection closed")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrFrameTooLarge    = errors.New("frame too large")
)

// closeFrame is the zero length prefix announcing an orderly close.
var closeFrame = make([]byte, headerSize)

// Encode returns the full frame for env: a 4 byte big-endian length followed
// by "<id>\n<True|False>\n<type>\n<json>".
func Encode(env Envelope) ([]byte, error) {
	if !isObject(env.Request.Data) {
		return nil, fmt.Errorf("%w: payload of %s is not a JSON object", ErrMalformedFrame, env.Request.Type)
	}

	subscribed := "False"
	if env.Subscribed {
		subscribed = "True"
	}

	var body bytes.Buffer
	body.Grow(len(env.Request.Data) + 32)
	body.WriteString(strconv.FormatUint(uint64(env.ID), 10))
	body.WriteByte('\n')
	body.WriteString(subscribed)
	body.WriteByte('\n')
	body.WriteString(string(env.Request.Type))
	body.WriteByte('\n')
	body.Write(env.Request.Data)

	if body.Len() > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrFrameTooLarge, body.Len(), MaxFrameSize)
	}

	out := make([]byte, headerSize+body.Len())
	binary.BigEndian.PutUint32(out[:headerSize], uint32(body.Len()))
	copy(out[headerSize:], body.Bytes())
	return out, nil
}

// Decode parses a frame body (without the length prefix).
func Decode(body []byte) (Envelope, error) {
	if !utf8.Valid(body) {
		return Envelope{}, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedFrame)
	}

	parts := bytes.SplitN(body, []byte{'\n'}, 4)
	if len(parts) != 4 {
		return Envelope{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedFrame, len(parts))
	}

	id, err := strconv.ParseUint(string(parts[0]), 10, 32)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad id %q", ErrMalformedFrame, parts[0])
	}

	var subscribed bool
	switch string(parts[1]) {
	case "True":
		subscribed = true
	case "False":
	default:
		return Envelope{}, fmt.Errorf("%w: bad subscribed flag %q", ErrMalformedFrame, parts[1])
	}

	reqType := RequestType(parts[2])
	if !reqType.Known() {
		return Envelope{}, fmt.Errorf("%w: unknown request type %q", ErrMalformedFrame, parts[2])
	}

	if !isObject(parts[3]) {
		return Envelope{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedFrame)
	}

	data := make([]byte, len(parts[3]))
	copy(data, parts[3])

	return Envelope{
		ID:         uint32(id),
		Subscribed: subscribed,
		Request:    Request{Type: reqType, Data: data},
	}, nil
}

// ReadFrame reads one length-prefixed body from r, looping over short reads.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, readError(err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrConnectionClosed
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrFrameTooLarge, length, MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, readError(err)
	}
	return body, nil
}

// ReadEnvelope reads and decodes one frame.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return Decode(body)
}

// WriteEnvelope encodes env and writes it with a single Write call.
func WriteEnvelope(w io.Writer, env Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return fmt.Errorf("read frame: %w", err)
}
