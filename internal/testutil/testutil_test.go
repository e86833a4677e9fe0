package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResettableClock(t *testing.T) {
	c := NewResettableClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	c.Reset()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
}

func TestResettableClock_Concurrent(t *testing.T) {
	c := NewResettableClock()
	seen := sync.Map{}
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, dup := seen.LoadOrStore(c.Next(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), c.Current())
}

func TestSequenceTokens(t *testing.T) {
	g := NewSequenceTokens("")
	assert.Equal(t, "tx-1", g.Generate())
	assert.Equal(t, "tx-2", g.Generate())
	assert.Equal(t, 2, g.Issued())

	assert.Equal(t, "run-1", NewSequenceTokens("run").Generate())
}

func TestFixedToken(t *testing.T) {
	g := FixedToken("same")
	assert.Equal(t, "same", g.Generate())
	assert.Equal(t, "same", g.Generate())
}
