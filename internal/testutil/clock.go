// Package testutil holds deterministic stand-ins for the clock and token
// generator so hook traces are byte-stable across runs.
package testutil

import "sync"

// ResettableClock is a dispatch sequencer that can be rewound between
// scenario runs. The first Next after construction or Reset returns 1.
type ResettableClock struct {
	mu  sync.Mutex
	seq int64
}

func NewResettableClock() *ResettableClock {
	return &ResettableClock{}
}

func (c *ResettableClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *ResettableClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds to zero.
func (c *ResettableClock) Reset() {
	c.mu.Lock()
	c.seq = 0
	c.mu.Unlock()
}
