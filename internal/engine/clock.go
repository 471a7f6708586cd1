package engine

import "sync/atomic"

// SeqClock issues the seq numbers stamped on received messages.
type SeqClock interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock.
//
// Every message is stamped with a strictly increasing seq from this clock,
// so ordering never depends on wall time and a journaled session replays
// in the order it was received.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though only the Run loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific seq.
// Used to continue a journaled session after its last seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next seq and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued seq without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
