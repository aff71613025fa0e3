package engine

import "sync/atomic"

// Clock is the monotonic logical clock that orders journal entries.
//
// Only committed transitions consume a seq, so a replay of the same journal
// reproduces the same numbering.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the engine's write path calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
