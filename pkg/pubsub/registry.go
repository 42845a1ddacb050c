package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/model"
)

const presenceTimeout = 2 * time.Second

// Presence records which users are subscribed to which channel.
type Presence interface {
	Join(ctx context.Context, channelID, userID int64) error
	Leave(ctx context.Context, channelID, userID int64) error
}

// Registry maps channel ids to publishers. A publisher exists while at least
// one subscription is attached to it.
type Registry struct {
	capacity int
	presence Presence
	log      zerolog.Logger

	mu         sync.Mutex
	publishers map[int64]*Publisher
}

type Option func(*Registry)

// WithPresence mirrors subscribe and unsubscribe into p.
func WithPresence(p Presence) Option {
	return func(r *Registry) { r.presence = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry returns an empty registry whose publishers buffer capacity
// messages each.
func NewRegistry(capacity int, opts ...Option) *Registry {
	r := &Registry{
		capacity:   capacity,
		log:        zerolog.Nop(),
		publishers: make(map[int64]*Publisher),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe attaches sub to the publisher of its channel, creating it if
// needed, and starts sub's worker with watermark lastMessageID. The
// subscription leaves the registry when it is stopped.
func (r *Registry) Subscribe(sub *Subscription, lastMessageID int64) (*Publisher, error) {
	r.mu.Lock()
	pub, ok := r.publishers[sub.ChannelID()]
	if !ok {
		pub = NewPublisher(sub.ChannelID(), r.capacity)
		r.publishers[sub.ChannelID()] = pub
		metrics.ActivePublishers.Inc()
	}
	pub.Add(sub)
	r.mu.Unlock()

	sub.setRelease(r.release)
	if err := sub.Begin(pub, lastMessageID); err != nil {
		r.detach(sub)
		return nil, err
	}

	r.updatePresence(sub, true)
	return pub, nil
}

// Publisher returns the publisher of channelID, or nil when nobody is
// subscribed to it.
func (r *Registry) Publisher(channelID int64) *Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishers[channelID]
}

// Broadcast delivers a message that originated elsewhere, such as another
// instance, to the local subscribers of its channel. It reports whether a
// publisher accepted it.
func (r *Registry) Broadcast(msg model.Message) bool {
	pub := r.Publisher(msg.ChannelID)
	if pub == nil {
		return false
	}
	return pub.Broadcast(msg, nil)
}

// Len returns the number of live publishers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.publishers)
}

func (r *Registry) release(sub *Subscription) {
	if r.detach(sub) {
		r.updatePresence(sub, false)
	}
}

// detach removes sub from its publisher and drops the publisher once empty.
func (r *Registry) detach(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pub, ok := r.publishers[sub.ChannelID()]
	if ok {
		pub.Remove(sub)
		if pub.IsEmpty() {
			delete(r.publishers, sub.ChannelID())
			metrics.ActivePublishers.Dec()
		}
	}
	return ok
}

func (r *Registry) updatePresence(sub *Subscription, joined bool) {
	if r.presence == nil || sub.UserID() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if joined {
		err = r.presence.Join(ctx, sub.ChannelID(), sub.UserID())
	} else {
		err = r.presence.Leave(ctx, sub.ChannelID(), sub.UserID())
	}
	if err != nil {
		r.log.Warn().Err(err).
			Int64("channel_id", sub.ChannelID()).
			Int64("user_id", sub.UserID()).
			Bool("joined", joined).
			Msg("presence update failed")
	}
}
