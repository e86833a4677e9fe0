package updates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
)

func row(table string) hook.RowChange {
	return hook.RowChange{Op: hook.OpInsert, Database: "main", Table: table}
}

func TestTracker_FireDeduplicatesAndSorts(t *testing.T) {
	tr := New()
	tr.OnRowChange(row("users"))
	tr.OnRowChange(row("lists"))
	tr.OnRowChange(row("users"))

	assert.Equal(t, []string{"lists", "users"}, tr.Pending())
	assert.Equal(t, []string{"lists", "users"}, tr.FireTableUpdates())
	assert.Empty(t, tr.Pending())
	assert.Nil(t, tr.FireTableUpdates(), "empty sets are not published")
}

func TestTracker_RollbackClearsPending(t *testing.T) {
	tr := New()
	tr.OnRowChange(row("a"))
	tr.OnRollback(hook.Rollback{})
	assert.Nil(t, tr.FireTableUpdates())
}

func TestTracker_RunDeliversInOrder(t *testing.T) {
	tr := New()
	ch, cancel := tr.Subscribe(4)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	tr.OnRowChange(row("a"))
	tr.FireTableUpdates()
	tr.OnRowChange(row("b"))
	tr.OnRowChange(row("c"))
	tr.FireTableUpdates()

	assert.Equal(t, []string{"a"}, recv(t, ch))
	assert.Equal(t, []string{"b", "c"}, recv(t, ch))

	stop()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestTracker_CloseDrainsQueue(t *testing.T) {
	tr := New()
	ch, cancel := tr.Subscribe(2)
	defer cancel()

	tr.OnRowChange(row("a"))
	tr.FireTableUpdates()
	tr.Close()
	assert.Nil(t, tr.FireTableUpdates())

	require.NoError(t, tr.Run(context.Background()))
	assert.Equal(t, []string{"a"}, recv(t, ch))
}

func TestTracker_FullSubscriberDrops(t *testing.T) {
	tr := New()
	_, cancel := tr.Subscribe(1)
	defer cancel()

	for _, name := range []string{"a", "b", "c"} {
		tr.OnRowChange(row(name))
		tr.FireTableUpdates()
	}
	tr.Close()
	require.NoError(t, tr.Run(context.Background()))
	assert.Equal(t, int64(2), tr.Dropped())
}

func TestTracker_CancelIsIdempotent(t *testing.T) {
	tr := New()
	ch, cancel := tr.Subscribe(1)
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	tr.CloseSubscribers()
}

func TestTracker_WithBridge(t *testing.T) {
	b := bridge.New(native.NewLib())
	c, err := b.Open(":memory:", 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Exec("CREATE TABLE lists(id INTEGER PRIMARY KEY); CREATE TABLE todos(id INTEGER PRIMARY KEY)"))
	tr := New()
	require.NoError(t, c.SetListener(tr, 0))

	require.NoError(t, c.Exec("BEGIN; INSERT INTO todos VALUES (1); ROLLBACK"))
	assert.Empty(t, tr.Pending())

	require.NoError(t, c.Exec("INSERT INTO lists VALUES (1); INSERT INTO todos VALUES (1)"))
	assert.Equal(t, []string{"lists", "todos"}, tr.FireTableUpdates())
}

func TestTracker_ConcurrentWriters(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.OnRowChange(row("t"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"t"}, tr.FireTableUpdates())
}

func recv(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for table updates")
		return nil
	}
}
