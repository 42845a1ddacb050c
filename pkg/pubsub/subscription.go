package pubsub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
)

var (
	ErrAlreadyStarted = errors.New("subscription already started")
	ErrStopped        = errors.New("subscription stopped")
)

// Sink receives the envelopes a subscription pushes to its connection.
type Sink interface {
	Push(env protocol.Envelope) error
}

// Subscription delivers the messages of one channel to one connection. Its
// worker goroutine sleeps until woken by the publisher and then pushes every
// buffered message newer than the watermark, oldest first.
type Subscription struct {
	id        uint32
	channelID int64
	userID    int64
	sink      Sink
	log       zerolog.Logger

	mu        sync.Mutex
	publisher *Publisher
	watermark int64
	started   bool
	stopped   bool
	release   func(*Subscription)

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewSubscription creates a subscription whose pushes carry correlation id id.
func NewSubscription(id uint32, channelID, userID int64, sink Sink, log zerolog.Logger) *Subscription {
	return &Subscription{
		id:        id,
		channelID: channelID,
		userID:    userID,
		sink:      sink,
		log: log.With().
			Uint32("subscription_id", id).
			Int64("channel_id", channelID).
			Logger(),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *Subscription) ID() uint32       { return s.id }
func (s *Subscription) ChannelID() int64 { return s.channelID }
func (s *Subscription) UserID() int64    { return s.userID }

// Watermark returns the id of the newest message delivered or sent.
func (s *Subscription) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Begin attaches the subscription to pub and starts the worker. It returns
// once the worker is waiting for wake-ups.
func (s *Subscription) Begin(pub *Publisher, lastMessageID int64) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.publisher = pub
	s.watermark = lastMessageID
	s.mu.Unlock()

	ready := make(chan struct{})
	go s.run(ready)
	<-ready
	return nil
}

// WakeUp asks the worker to check the publisher for new messages. It never
// blocks; wake-ups issued while one is pending are merged.
func (s *Subscription) WakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop detaches the subscription and waits for the worker to exit. No push
// happens after Stop returns. Stop is safe to call more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.doneOrClosed()
		return
	}
	s.stopped = true
	started := s.started
	release := s.release
	s.publisher = nil
	s.mu.Unlock()

	if release != nil {
		release(s)
	}

	close(s.quit)
	if started {
		<-s.done
	}
	s.log.Debug().Msg("subscription stopped")
}

// SendMessage broadcasts a message authored on this subscription's
// connection. The author already knows the message, so the watermark moves
// past it and the author's own worker is not woken. It returns false when the
// subscription is not attached to a publisher.
func (s *Subscription) SendMessage(msg model.Message) bool {
	s.mu.Lock()
	pub := s.publisher
	if pub == nil {
		s.mu.Unlock()
		s.log.Warn().Int64("message_id", msg.ID).Msg("send on a detached subscription")
		return false
	}
	s.watermark = max(s.watermark, msg.ID)
	s.mu.Unlock()

	pub.Broadcast(msg, s)
	return true
}

func (s *Subscription) setRelease(fn func(*Subscription)) {
	s.mu.Lock()
	s.release = fn
	s.mu.Unlock()
}

func (s *Subscription) doneOrClosed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Subscription) run(ready chan<- struct{}) {
	defer close(s.done)
	close(ready)

	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		// Stop wins over a pending wake-up
		select {
		case <-s.quit:
			return
		default:
		}

		if !s.deliver() {
			return
		}
	}
}

// deliver pushes everything newer than the watermark. It returns false when
// the worker must exit.
func (s *Subscription) deliver() bool {
	s.mu.Lock()
	pub, after := s.publisher, s.watermark
	s.mu.Unlock()
	if pub == nil {
		return true
	}

	messages := pub.MessagesAfter(after)
	for i := len(messages) - 1; i >= 0; i-- {
		select {
		case <-s.quit:
			return false
		default:
		}

		env, err := s.envelope(messages[i])
		if err != nil {
			s.log.Error().Err(err).Int64("message_id", messages[i].ID).Msg("encode push")
			continue
		}
		if err := s.sink.Push(env); err != nil {
			// Connection is going away, teardown stops the subscription
			s.log.Debug().Err(err).Msg("push failed")
			return false
		}
		metrics.Deliveries.Inc()

		s.mu.Lock()
		s.watermark = max(s.watermark, messages[i].ID)
		s.mu.Unlock()
	}
	return true
}

func (s *Subscription) envelope(msg model.Message) (protocol.Envelope, error) {
	req, err := protocol.NewRequest(protocol.ChannelSubscription, map[string]model.Message{"message": msg})
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Envelope{ID: s.id, Subscribed: true, Request: req}, nil
}
