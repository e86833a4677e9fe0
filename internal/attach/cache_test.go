package attach

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/native"
)

type transitions struct {
	mu       sync.Mutex
	attached []native.ThreadID
	detached []native.ThreadID
}

func (tr *transitions) options() Option {
	return WithHooks(
		func(id native.ThreadID) {
			tr.mu.Lock()
			tr.attached = append(tr.attached, id)
			tr.mu.Unlock()
		},
		func(id native.ThreadID) {
			tr.mu.Lock()
			tr.detached = append(tr.detached, id)
			tr.mu.Unlock()
		},
	)
}

func TestEnter_AdoptedThreadNeverAttaches(t *testing.T) {
	tr := &transitions{}
	c := New(WithPolicy(DetachAfterCall), tr.options())
	c.Adopt(1)

	for i := 0; i < 3; i++ {
		env, exit := c.Enter(1)
		assert.True(t, env.Adopted())
		exit()
	}

	assert.Empty(t, tr.attached)
	assert.Empty(t, tr.detached)
	assert.True(t, c.Attached(1))
}

func TestEnter_RetainKeepsThreadAttached(t *testing.T) {
	tr := &transitions{}
	c := New(tr.options())

	for i := 0; i < 5; i++ {
		env, exit := c.Enter(9)
		assert.False(t, env.Adopted())
		exit()
	}

	assert.Equal(t, []native.ThreadID{9}, tr.attached)
	assert.Empty(t, tr.detached)
	env, exit := c.Enter(9)
	assert.Equal(t, int64(6), env.Calls())
	exit()

	c.Forget(9)
	assert.Equal(t, []native.ThreadID{9}, tr.detached)
	assert.False(t, c.Attached(9))
}

func TestEnter_DetachAfterOutermostCall(t *testing.T) {
	tr := &transitions{}
	c := New(WithPolicy(DetachAfterCall), tr.options())

	_, outer := c.Enter(4)
	_, inner := c.Enter(4)
	inner()
	assert.True(t, c.Attached(4), "nested exit must not detach")
	outer()
	assert.False(t, c.Attached(4))

	attaches, detaches := c.Stats()
	assert.Equal(t, int64(1), attaches)
	assert.Equal(t, int64(1), detaches)
}

func TestForget_InsideCallbackIsIgnored(t *testing.T) {
	c := New()
	_, exit := c.Enter(2)
	c.Forget(2)
	assert.True(t, c.Attached(2))
	exit()
	c.Forget(2)
	assert.False(t, c.Attached(2))
}

func TestForget_AdoptedDoesNotDetach(t *testing.T) {
	tr := &transitions{}
	c := New(tr.options())
	c.Adopt(3)
	c.Forget(3)
	assert.Empty(t, tr.detached)
	assert.Equal(t, 0, c.Len())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Retain, p)

	p, err = ParsePolicy("detach_after_call")
	require.NoError(t, err)
	assert.Equal(t, DetachAfterCall, p)
	assert.Equal(t, "detach_after_call", p.String())

	_, err = ParsePolicy("always")
	assert.Error(t, err)
}

func TestEnter_ConcurrentThreads(t *testing.T) {
	c := New(WithPolicy(DetachAfterCall))
	var wg sync.WaitGroup
	for g := 1; g <= 8; g++ {
		wg.Add(1)
		go func(id native.ThreadID) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, exit := c.Enter(id)
				exit()
			}
		}(native.ThreadID(g))
	}
	wg.Wait()

	assert.Equal(t, 0, c.Len())
	attaches, detaches := c.Stats()
	assert.Equal(t, attaches, detaches)
}
