package ratelimiter

import (
	"sync"
	"time"
)

// Gate paces a recurring action, such as emitting a progress batch, to at
// most one pass per interval. The first pass is always allowed.
// Safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	passes   int64
	now      func() time.Time
}

// New creates a gate that opens at most once per interval.
// A non-positive interval never holds anything back.
func New(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		now:      time.Now,
	}
}

// Pass reports whether the interval has elapsed since the last pass and, if
// so, records now as the last pass.
func (g *Gate) Pass() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	g.passes++
	return true
}

// Remaining returns how long until the next pass would be allowed
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last.IsZero() {
		return 0
	}
	if left := g.interval - g.now().Sub(g.last); left > 0 {
		return left
	}
	return 0
}

// SetInterval changes the interval. The time of the last pass is kept, so a
// shorter interval can open the gate immediately and a longer one extends the
// current wait.
func (g *Gate) SetInterval(interval time.Duration) {
	g.mu.Lock()
	g.interval = interval
	g.mu.Unlock()
}

// Interval returns the current interval
func (g *Gate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

// Passes returns how many times the gate has opened
func (g *Gate) Passes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.passes
}

// Reset forgets the last pass so the next call to Pass succeeds
func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}
