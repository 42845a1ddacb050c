package snowflake

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestNextIsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	g := New()
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("id %d after %d is not increasing", id, prev)
		}
		prev = id
	}
}

func TestNextEncodesTimestamp(t *testing.T) {
	t.Parallel()

	const sec = 1_700_000_000
	g := NewWithClock(fixedClock(sec))

	for i := 0; i < 100; i++ {
		id := g.Next()
		if got := Timestamp(id); got != sec {
			t.Fatalf("Timestamp(%d) = %d, want %d", id, got, sec)
		}
		if got := id & tagMask; got != int64(i) {
			t.Errorf("tag = %d, want %d", got, i)
		}
	}
}

func TestNextResetsTagOnNewSecond(t *testing.T) {
	t.Parallel()

	var sec atomic.Int64
	sec.Store(100)
	g := NewWithClock(func() time.Time { return time.Unix(sec.Load(), 0) })

	g.Next()
	g.Next()
	sec.Store(101)

	id := g.Next()
	if id != 101<<TagBits {
		t.Errorf("id = %d, want %d", id, int64(101<<TagBits))
	}
}

func TestNextClockBackwards(t *testing.T) {
	t.Parallel()

	var sec atomic.Int64
	sec.Store(200)
	g := NewWithClock(func() time.Time { return time.Unix(sec.Load(), 0) })

	first := g.Next()
	sec.Store(150)
	second := g.Next()

	if second <= first {
		t.Errorf("id went backwards: %d then %d", first, second)
	}
	if Timestamp(second) != 200 {
		t.Errorf("Timestamp = %d, want 200", Timestamp(second))
	}
}

func TestNextWaitsWhenTagExhausted(t *testing.T) {
	t.Parallel()

	now := time.Unix(300, 250*int64(time.Millisecond))
	g := NewWithClock(func() time.Time { return now })

	var sleeps []time.Duration
	g.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
		now = time.Unix(301, 0)
	}

	var last int64
	for i := 0; i <= 1<<TagBits; i++ {
		last = g.Next()
	}

	if Timestamp(last) != 301 {
		t.Errorf("Timestamp after exhaustion = %d, want 301", Timestamp(last))
	}
	if last&tagMask != 0 {
		t.Errorf("tag after exhaustion = %d, want 0", last&tagMask)
	}
	if len(sleeps) != 1 || sleeps[0] != 750*time.Millisecond {
		t.Errorf("sleeps = %v, want one sleep of 750ms up to the next second", sleeps)
	}
}

func TestNextConcurrentUnique(t *testing.T) {
	t.Parallel()

	g := New()
	const workers, perWorker = 8, 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("got %d unique ids, want %d", len(seen), workers*perWorker)
	}
}
