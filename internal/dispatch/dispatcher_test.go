package dispatch

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/attach"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/registry"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/testutil"
)

type recorder struct {
	mu        sync.Mutex
	events    []string
	rows      []hook.RowChange
	commits   []hook.Commit
	rollbacks []hook.Rollback
	commitErr error
	panicOn   string
}

func (r *recorder) OnRowChange(ev hook.RowChange) {
	if r.panicOn == "row" {
		panic("row boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "row")
	r.rows = append(r.rows, ev)
}

func (r *recorder) OnCommit(ev hook.Commit) error {
	if r.panicOn == "commit" {
		panic("commit boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "commit")
	r.commits = append(r.commits, ev)
	return r.commitErr
}

func (r *recorder) OnRollback(ev hook.Rollback) {
	if r.panicOn == "rollback" {
		panic("rollback boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "rollback")
	r.rollbacks = append(r.rollbacks, ev)
}

type fixture struct {
	reg      *registry.Registry
	threads  *attach.Cache
	tokens   *testutil.SequenceTokens
	d        *Dispatcher
	failures []error
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		reg:     registry.New(),
		threads: attach.New(),
		tokens:  testutil.NewSequenceTokens("tx"),
	}
	opts = append([]Option{
		WithTokenGenerator(f.tokens),
		WithFailureHandler(func(err error) { f.failures = append(f.failures, err) }),
	}, opts...)
	f.d = New(f.reg, f.threads, opts...)
	return f
}

const (
	thread native.ThreadID   = 100
	conn   native.ConnHandle = 1
)

func insert(d *Dispatcher, db native.ConnHandle, table string, rowID int64) {
	d.RowChanged(thread, db, native.OpInsert, native.GoCString("main"), native.GoCString(table), rowID)
}

func TestDispatch_NoListenerDropsSilently(t *testing.T) {
	f := newFixture()

	insert(f.d, conn, "t", 1)
	assert.False(t, f.d.Committing(thread, conn))
	f.d.RolledBack(thread, conn)

	assert.Equal(t, 0, f.tokens.Issued())
	assert.Equal(t, int64(0), f.d.Clock().Current())
	assert.Empty(t, f.failures)
}

func TestDispatch_RowsThenCommitShareTransaction(t *testing.T) {
	f := newFixture()
	rec := &recorder{}
	require.NoError(t, f.reg.Register(conn, rec, 0))

	insert(f.d, conn, "items", 1)
	insert(f.d, conn, "items", 2)
	assert.False(t, f.d.Committing(thread, conn))

	require.Equal(t, []string{"row", "row", "commit"}, rec.events)
	assert.Equal(t, "tx-1", rec.rows[0].Tx)
	assert.Equal(t, "tx-1", rec.rows[1].Tx)
	assert.Equal(t, "tx-1", rec.commits[0].Tx)
	assert.Equal(t, []int64{1, 2}, []int64{rec.rows[0].Seq, rec.rows[1].Seq})
	assert.Equal(t, int64(3), rec.commits[0].Seq)
	assert.Equal(t, hook.OpInsert, rec.rows[0].Op)
	assert.Equal(t, "main", rec.rows[0].Database)
	assert.Equal(t, "items", rec.rows[0].Table)

	insert(f.d, conn, "items", 3)
	assert.Equal(t, "tx-2", rec.rows[2].Tx)
}

func TestDispatch_CapabilityFiltersEvents(t *testing.T) {
	f := newFixture()
	rec := &recorder{}
	require.NoError(t, f.reg.Register(conn, rec, hook.CapCommit))

	insert(f.d, conn, "t", 1)
	f.d.Committing(thread, conn)
	f.d.RolledBack(thread, conn)

	assert.Equal(t, []string{"commit"}, rec.events)
}

func TestDispatch_VetoDisabledAllowsCommit(t *testing.T) {
	f := newFixture()
	rec := &recorder{commitErr: errors.New("no")}
	require.NoError(t, f.reg.Register(conn, rec, 0))

	insert(f.d, conn, "t", 1)
	assert.False(t, f.d.Committing(thread, conn))
	assert.False(t, f.d.VetoEnabled())
	assert.Equal(t, int64(1), f.d.Failures())
	require.Len(t, f.failures, 1)
	assert.True(t, sqlerr.IsFailure(f.failures[0], sqlerr.FailureHookDispatch))
}

func TestDispatch_VetoEnabledAbortsCommit(t *testing.T) {
	f := newFixture(WithCommitVeto(true))
	rec := &recorder{commitErr: errors.New("reject")}
	require.NoError(t, f.reg.Register(conn, rec, 0))
	before := promtest.ToFloat64(commitsVetoed)

	insert(f.d, conn, "t", 1)
	assert.True(t, f.d.Committing(thread, conn))
	f.d.RolledBack(thread, conn)

	assert.Equal(t, []string{"row", "commit", "rollback"}, rec.events)
	assert.Equal(t, "tx-1", rec.rollbacks[0].Tx, "rollback after veto belongs to the vetoed transaction")
	assert.Equal(t, int64(0), f.d.Failures(), "a returned veto is not a failure")
	assert.Equal(t, before+1, promtest.ToFloat64(commitsVetoed))
}

func TestDispatch_CommitPanicFollowsVetoPolicy(t *testing.T) {
	t.Run("veto enabled", func(t *testing.T) {
		f := newFixture(WithCommitVeto(true))
		require.NoError(t, f.reg.Register(conn, &recorder{panicOn: "commit"}, 0))

		assert.NotPanics(t, func() {
			assert.True(t, f.d.Committing(thread, conn))
		})
		assert.Equal(t, int64(1), f.d.Failures())
	})

	t.Run("veto disabled", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.reg.Register(conn, &recorder{panicOn: "commit"}, 0))

		assert.NotPanics(t, func() {
			assert.False(t, f.d.Committing(thread, conn))
		})
		require.Len(t, f.failures, 1)
		assert.Contains(t, f.failures[0].Error(), "commit boom")
	})
}

func TestDispatch_RowAndRollbackPanicsAreContained(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.reg.Register(conn, &recorder{panicOn: "row"}, 0))
	require.NoError(t, f.reg.Register(2, &recorder{panicOn: "rollback"}, 0))

	assert.NotPanics(t, func() {
		insert(f.d, conn, "t", 1)
		f.d.RolledBack(thread, 2)
	})
	assert.Equal(t, int64(2), f.d.Failures())
	assert.Len(t, f.failures, 2)
}

func TestDispatch_PanickingFailureHandlerIsContained(t *testing.T) {
	f := newFixture(
		WithCommitVeto(true),
		WithFailureHandler(func(error) { panic("handler boom") }),
	)
	require.NoError(t, f.reg.Register(conn, &recorder{panicOn: "commit"}, 0))

	assert.NotPanics(t, func() {
		assert.True(t, f.d.Committing(thread, conn), "veto policy still applies")
		f.d.RolledBack(thread, conn)
	})
	assert.Equal(t, int64(1), f.d.Failures())
}

func TestDispatch_RollbackEndsTransaction(t *testing.T) {
	f := newFixture()
	rec := &recorder{}
	require.NoError(t, f.reg.Register(conn, rec, 0))

	insert(f.d, conn, "t", 1)
	f.d.RolledBack(thread, conn)
	insert(f.d, conn, "t", 2)

	assert.Equal(t, "tx-1", rec.rollbacks[0].Tx)
	assert.Equal(t, "tx-2", rec.rows[1].Tx)
}

func TestDispatch_ThreadAttachment(t *testing.T) {
	var attached []native.ThreadID
	threads := attach.New(
		attach.WithPolicy(attach.DetachAfterCall),
		attach.WithHooks(func(id native.ThreadID) { attached = append(attached, id) }, nil),
	)
	reg := registry.New()
	d := New(reg, threads)
	require.NoError(t, reg.Register(conn, &recorder{}, 0))

	threads.Adopt(7)
	d.RowChanged(7, conn, native.OpInsert, native.GoCString("main"), native.GoCString("t"), 1)
	d.RowChanged(8, conn, native.OpInsert, native.GoCString("main"), native.GoCString("t"), 2)

	assert.Equal(t, []native.ThreadID{8}, attached)
	assert.True(t, threads.Attached(7))
	assert.False(t, threads.Attached(8), "detached after the call under DetachAfterCall")
}

type connCounter struct {
	conn   native.ConnHandle
	mu     sync.Mutex
	rows   int
	stray  int
	commit int
}

func (c *connCounter) OnRowChange(ev hook.RowChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Conn != c.conn {
		c.stray++
	}
	c.rows++
}

func (c *connCounter) OnCommit(ev hook.Commit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Conn != c.conn {
		c.stray++
	}
	c.commit++
	return nil
}

func TestDispatch_ConcurrentConnectionsRandomized(t *testing.T) {
	reg := registry.New()
	threads := attach.New()
	d := New(reg, threads, WithTokenGenerator(testutil.FixedToken("tx")))

	a := &connCounter{conn: 10}
	b := &connCounter{conn: 20}
	require.NoError(t, reg.Register(a.conn, a, 0))
	require.NoError(t, reg.Register(b.conn, b, 0))

	const iterations = 2000
	run := func(c *connCounter, th native.ThreadID, seed int64, wg *sync.WaitGroup) {
		defer wg.Done()
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < iterations; i++ {
			if rng.Intn(4) == 0 {
				d.Committing(th, c.conn)
				continue
			}
			d.RowChanged(th, c.conn, native.OpInsert, native.GoCString("main"), native.GoCString("t"), int64(i))
			if rng.Intn(16) == 0 {
				// Re-registering mid-stream must never expose a half-built binding.
				assert.NoError(t, reg.Register(c.conn, c, 0))
			}
		}
	}

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go run(a, 1001, int64(round), &wg)
		go run(b, 2002, int64(round+100), &wg)
		wg.Wait()
	}

	assert.Zero(t, a.stray)
	assert.Zero(t, b.stray)
	assert.Equal(t, 5*iterations, a.rows+a.commit)
	assert.Equal(t, 5*iterations, b.rows+b.commit)
	assert.Equal(t, int64(2), reg.LiveRefs())
}

func TestClock(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(42), c.Next())
	assert.Equal(t, int64(42), c.Current())
	assert.Equal(t, int64(1), NewClock().Next())
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
