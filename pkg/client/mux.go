// Package client is the client side of the protocol: a request multiplexer
// over one transport, a typed API on top of it and the message window used to
// page through a channel.
package client

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/protocol"
)

const (
	DefaultTimeout = 30 * time.Second
	outboxSize     = 64
)

var ErrClosed = errors.New("client closed")

// Callback receives the response to a request. For subscriptions it runs once
// per push.
type Callback func(res protocol.Request)

// Dispatcher runs a callback on the consumer's execution context, for example
// by posting it to a UI event loop. The default runs it on the receiver
// goroutine.
type Dispatcher func(fn func())

type pending struct {
	cb     Callback
	direct bool
	timer  *time.Timer
}

type outgoing struct {
	env     protocol.Envelope
	pending *pending
}

// Mux multiplexes one-shot requests and subscriptions over one transport.
// Responses are matched to callbacks by correlation id.
type Mux struct {
	transport protocol.Transport
	dispatch  Dispatcher
	timeout   time.Duration
	log       zerolog.Logger

	nextID atomic.Uint32
	outbox chan outgoing
	// gate is held shared by enqueue and exclusively by the final drain
	gate sync.RWMutex

	mu         sync.Mutex
	oneShot    map[uint32]*pending
	subscribed map[uint32]*pending
	closed     bool
	err        error

	startOnce sync.Once
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

type MuxOption func(*Mux)

func WithDispatcher(d Dispatcher) MuxOption {
	return func(m *Mux) { m.dispatch = d }
}

// WithTimeout sets how long a one-shot request waits for its response. Zero
// disables the timeout.
func WithTimeout(d time.Duration) MuxOption {
	return func(m *Mux) { m.timeout = d }
}

func WithLogger(log zerolog.Logger) MuxOption {
	return func(m *Mux) { m.log = log }
}

func NewMux(t protocol.Transport, opts ...MuxOption) *Mux {
	m := &Mux{
		transport:  t,
		dispatch:   func(fn func()) { fn() },
		timeout:    DefaultTimeout,
		log:        zerolog.Nop(),
		outbox:     make(chan outgoing, outboxSize),
		oneShot:    make(map[uint32]*pending),
		subscribed: make(map[uint32]*pending),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sender and receiver goroutines.
func (m *Mux) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(2)
		go m.send()
		go m.receive()
		go func() {
			m.wg.Wait()
			// Wait out enqueues that raced with the shutdown
			m.gate.Lock()
			m.drainOutbox()
			m.gate.Unlock()
			m.failPending("Connection closed")
			close(m.done)
		}()
	})
}

// Request sends a one-shot request. cb runs exactly once, with the response,
// a timeout error or a closed connection error.
func (m *Mux) Request(req protocol.Request, cb Callback) error {
	_, err := m.enqueue(req, false, &pending{cb: cb})
	return err
}

// Subscribe sends a subscription request and returns its id. cb runs for the
// confirmation and for every push until Unsubscribe.
func (m *Mux) Subscribe(req protocol.Request, cb Callback) (uint32, error) {
	return m.enqueue(req, true, &pending{cb: cb})
}

// Unsubscribe stops dispatching pushes for id and then sends req as a
// one-shot request to tell the server. cb may be nil.
func (m *Mux) Unsubscribe(id uint32, req protocol.Request, cb Callback) error {
	m.forget(id)
	return m.Request(req, cb)
}

// roundTrip is Request with the callback run on the receiver goroutine,
// bypassing the dispatcher. Blocking callers use it so that waiting from the
// dispatcher's own context cannot deadlock.
func (m *Mux) roundTrip(req protocol.Request, cb Callback) error {
	_, err := m.enqueue(req, false, &pending{cb: cb, direct: true})
	return err
}

func (m *Mux) subscribeDirect(req protocol.Request, cb Callback) (uint32, error) {
	return m.enqueue(req, true, &pending{cb: cb, direct: true})
}

func (m *Mux) forget(id uint32) {
	m.mu.Lock()
	delete(m.subscribed, id)
	m.mu.Unlock()
}

// Close shuts the transport down and waits for both workers. Pending one-shot
// callbacks receive a "Connection closed" error.
func (m *Mux) Close() error {
	m.Start()
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.quit)
		err = m.transport.Close()
	})
	<-m.done
	return err
}

// Done is closed once the multiplexer has stopped.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

// Err returns the error that stopped the multiplexer, nil after an orderly
// close.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Mux) enqueue(req protocol.Request, subscribed bool, p *pending) (uint32, error) {
	m.gate.RLock()
	defer m.gate.RUnlock()

	if m.isClosed() {
		return 0, ErrClosed
	}

	id := m.nextID.Add(1)
	out := outgoing{
		env:     protocol.Envelope{ID: id, Subscribed: subscribed, Request: req},
		pending: p,
	}

	select {
	case m.outbox <- out:
		return id, nil
	case <-m.quit:
		return 0, ErrClosed
	}
}

func (m *Mux) send() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			m.drainOutbox()
			return
		case out := <-m.outbox:
			// Register before writing so a fast response finds its callback
			if !m.register(out) {
				m.drainOutbox()
				return
			}
			if err := m.transport.WriteEnvelope(out.env); err != nil {
				m.stop(err)
				m.drainOutbox()
				return
			}
		}
	}
}

func (m *Mux) register(out outgoing) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.fire(out.pending, closedResponse("Connection closed"))
		return false
	}

	id := out.env.ID
	if out.env.Subscribed {
		m.subscribed[id] = out.pending
	} else {
		m.oneShot[id] = out.pending
		if m.timeout > 0 {
			p := out.pending
			p.timer = time.AfterFunc(m.timeout, func() { m.expire(id, p) })
		}
	}
	m.mu.Unlock()
	return true
}

func (m *Mux) expire(id uint32, p *pending) {
	m.mu.Lock()
	if m.oneShot[id] != p {
		m.mu.Unlock()
		return
	}
	delete(m.oneShot, id)
	m.mu.Unlock()

	m.log.Warn().Uint32("request_id", id).Msg("request timed out")
	m.fire(p, closedResponse("Request timed out"))
}

func (m *Mux) receive() {
	defer m.wg.Done()

	for {
		env, err := m.transport.ReadEnvelope()
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) || m.isClosed() {
				m.stop(nil)
			} else {
				m.log.Error().Err(err).Msg("receive failed")
				m.stop(err)
			}
			return
		}

		p := m.lookup(env)
		if p == nil {
			m.log.Debug().Uint32("request_id", env.ID).Bool("subscribed", env.Subscribed).Msg("no callback for response")
			continue
		}
		m.fire(p, env.Request)
	}
}

// lookup finds the callback for env. One-shot entries are removed so they
// fire at most once.
func (m *Mux) lookup(env protocol.Envelope) *pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	if env.Subscribed {
		return m.subscribed[env.ID]
	}
	p, ok := m.oneShot[env.ID]
	if !ok {
		return nil
	}
	delete(m.oneShot, env.ID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (m *Mux) fire(p *pending, res protocol.Request) {
	if p.cb == nil {
		return
	}
	if p.direct {
		p.cb(res)
		return
	}
	m.dispatch(func() { p.cb(res) })
}

func (m *Mux) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// stop records why the multiplexer ended and wakes the other worker.
func (m *Mux) stop(err error) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.err = err
		m.mu.Unlock()
		close(m.quit)
		_ = m.transport.Close()
	})
}

func (m *Mux) drainOutbox() {
	for {
		select {
		case out := <-m.outbox:
			m.fire(out.pending, closedResponse("Connection closed"))
		default:
			return
		}
	}
}

func (m *Mux) failPending(message string) {
	m.mu.Lock()
	pend := m.oneShot
	m.oneShot = make(map[uint32]*pending)
	m.subscribed = make(map[uint32]*pending)
	m.mu.Unlock()

	for _, p := range pend {
		if p.timer != nil {
			p.timer.Stop()
		}
		m.fire(p, closedResponse(message))
	}
}

func closedResponse(message string) protocol.Request {
	req, _ := protocol.NewRequest(protocol.Error, map[string]string{
		"status":  "error",
		"message": message,
	})
	return req
}
