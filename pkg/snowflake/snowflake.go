package snowflake

import (
	"sync"
	"time"
)

// TagBits is the width of the per-second counter in the low bits of an id.
// 16 bits allows 65536 ids per second per generator, well above the peak
// message rate of a single chat server.
const (
	TagBits = 16
	tagMask = -1 ^ (-1 << TagBits)
)

// Generator mints time-sortable ids: unix seconds in the high bits, a counter
// in the low TagBits bits.
type Generator struct {
	mu    sync.Mutex
	now   func() time.Time
	sleep func(time.Duration)
	time  int64
	tag   int64
}

// New returns a generator backed by the wall clock.
func New() *Generator {
	return NewWithClock(time.Now)
}

// NewWithClock returns a generator that reads the time from now.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now, sleep: time.Sleep}
}

// Next returns the next id. Ids from one generator are strictly increasing.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().Unix()

	if now < g.time {
		// Clock moved backwards, stay on the last second
		now = g.time
	}

	if now == g.time {
		g.tag = (g.tag + 1) & tagMask
		if g.tag == 0 {
			// Counter exhausted for this second, wait for the next one
			for now <= g.time {
				g.sleep(time.Unix(g.time+1, 0).Sub(g.now()))
				now = g.now().Unix()
			}
		}
	} else {
		g.tag = 0
	}

	g.time = now

	return (now << TagBits) | g.tag
}

// Timestamp returns the unix second encoded in id.
func Timestamp(id int64) int64 {
	return id >> TagBits
}
