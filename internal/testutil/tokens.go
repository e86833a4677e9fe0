package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens issues "<prefix>-1", "<prefix>-2", ... in call order.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens uses prefix "tx" when prefix is empty.
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequenceTokens{prefix: prefix}
}

func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Issued returns how many tokens were generated.
func (g *SequenceTokens) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// FixedToken returns the same token every time, for tests that only care
// that events of one transaction agree.
type FixedToken string

func (f FixedToken) Generate() string {
	return string(f)
}
