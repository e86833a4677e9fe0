package registry

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
)

type rowListener struct{ name string }

func (rowListener) OnRowChange(hook.RowChange) {}

func TestRegister_LookupReturnsBinding(t *testing.T) {
	r := New()
	l := hook.Funcs{RowChange: func(hook.RowChange) {}, Commit: func(hook.Commit) error { return nil }}

	for h := native.ConnHandle(1); h <= 50; h++ {
		require.NoError(t, r.Register(h, l, 0))
		b, ok := r.Lookup(h)
		require.True(t, ok)
		assert.Equal(t, h, b.Conn)
		assert.Equal(t, hook.CapRowChange|hook.CapCommit, b.Capabilities)
		assert.False(t, b.Ref.Released())
	}
	assert.Equal(t, 50, r.Len())
	assert.Equal(t, int64(50), r.LiveRefs())
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(7, rowListener{}, 0))
	b, _ := r.Lookup(7)

	r.Unregister(7)
	_, ok := r.Lookup(7)
	assert.False(t, ok)
	assert.True(t, b.Ref.Released())

	r.Unregister(7)
	r.Unregister(8)
	assert.Equal(t, int64(0), r.LiveRefs())
}

func TestRegister_ReplaceReleasesOld(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, rowListener{name: "a"}, 0))
	first, _ := r.Lookup(1)

	require.NoError(t, r.Register(1, rowListener{name: "b"}, 0))
	second, _ := r.Lookup(1)

	assert.True(t, first.Ref.Released())
	assert.False(t, second.Ref.Released())
	assert.NotEqual(t, first.Ref.ID(), second.Ref.ID())
	assert.Equal(t, rowListener{name: "b"}, second.Listener)
	assert.Equal(t, int64(1), r.LiveRefs())
}

func TestRegister_Rejects(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register(1, nil, 0), ErrNilListener)

	err := r.Register(1, rowListener{}, hook.CapCommit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), r.LiveRefs())
}

func TestRegister_NarrowedCapabilities(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, hook.Funcs{
		RowChange: func(hook.RowChange) {},
		Rollback:  func(hook.Rollback) {},
	}, hook.CapRollback))

	b, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, hook.CapRollback, b.Capabilities)
}

func TestRef_ReleaseExactlyOnce(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, rowListener{}, 0))
	b, _ := r.Lookup(1)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Unregister(1)
		}()
		go func() {
			defer wg.Done()
			b.Ref.Release()
		}()
	}
	wg.Wait()

	assert.True(t, b.Ref.Released())
	assert.Equal(t, int64(0), r.LiveRefs())
}

func TestRegistry_ConcurrentRandomized(t *testing.T) {
	r := New()
	const handles = 8

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				h := native.ConnHandle(rng.Intn(handles) + 1)
				switch rng.Intn(3) {
				case 0:
					_ = r.Register(h, rowListener{}, 0)
				case 1:
					if b, ok := r.Lookup(h); ok {
						assert.Equal(t, h, b.Conn)
					}
				case 2:
					r.Unregister(h)
				}
			}
		}(int64(g))
	}
	wg.Wait()

	assert.Equal(t, int64(r.Len()), r.LiveRefs())
	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), r.LiveRefs())
}
