package pubsub

import (
	"sort"
	"sync"

	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/model"
)

// DefaultCapacity is the number of recent messages a publisher keeps.
const DefaultCapacity = 100

// Publisher holds the recent history of one channel and fans new messages out
// to its subscriptions. The buffer is kept sorted newest first.
type Publisher struct {
	channelID int64
	capacity  int

	mu     sync.Mutex
	buffer []model.Message
	subs   map[*Subscription]struct{}
}

func NewPublisher(channelID int64, capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{
		channelID: channelID,
		capacity:  capacity,
		buffer:    make([]model.Message, 0, capacity+1),
		subs:      make(map[*Subscription]struct{}),
	}
}

func (p *Publisher) ChannelID() int64 { return p.channelID }

func (p *Publisher) Add(sub *Subscription) {
	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()
}

func (p *Publisher) Remove(sub *Subscription) {
	p.mu.Lock()
	delete(p.subs, sub)
	p.mu.Unlock()
}

func (p *Publisher) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs) == 0
}

// Len returns the number of buffered messages.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Broadcast inserts msg into the buffer and wakes every subscription except
// sender. A message already in the buffer is ignored. It reports whether msg
// was accepted.
func (p *Publisher) Broadcast(msg model.Message, sender *Subscription) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.search(msg.ID)
	if i < len(p.buffer) && p.buffer[i].ID == msg.ID {
		return false
	}
	if i == len(p.buffer) && len(p.buffer) >= p.capacity {
		// Older than everything kept, would be evicted at once
		return false
	}

	p.buffer = append(p.buffer, model.Message{})
	copy(p.buffer[i+1:], p.buffer[i:])
	p.buffer[i] = msg

	if len(p.buffer) > p.capacity {
		p.buffer = p.buffer[:p.capacity]
	}
	metrics.Broadcasts.Inc()

	for sub := range p.subs {
		if sub != sender {
			sub.WakeUp()
		}
	}
	return true
}

// MessagesAfter returns the buffered messages with id greater than afterID,
// newest first. It returns nil when nobody is subscribed or nothing is newer.
func (p *Publisher) MessagesAfter(afterID int64) []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.subs) == 0 || len(p.buffer) == 0 || p.buffer[0].ID <= afterID {
		return nil
	}

	i := p.search(afterID)
	out := make([]model.Message, i)
	copy(out, p.buffer[:i])
	return out
}

// search returns the first index whose id is <= id.
func (p *Publisher) search(id int64) int {
	return sort.Search(len(p.buffer), func(i int) bool { return p.buffer[i].ID <= id })
}
