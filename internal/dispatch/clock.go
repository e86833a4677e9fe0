package dispatch

import "sync/atomic"

// Clock stamps delivered events with a strictly increasing sequence number.
// Seq order is delivery order across every connection of one dispatcher.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes from start; the first Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
