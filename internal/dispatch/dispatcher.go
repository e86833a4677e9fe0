// Package dispatch delivers native hook notifications to registered
// listeners.
//
// Dispatcher implements native.HookSink. Each callback runs synchronously
// inside the engine: it looks up the connection's binding, enters the
// calling thread's host context, and invokes the listener. Events for a
// connection without a binding (or without the matching capability) are
// dropped; the change itself is unaffected.
//
// Listener failure policy:
//   - OnCommit returning an error is the veto signal. It aborts the commit
//     only when veto is enabled (WithCommitVeto); otherwise it is logged and
//     the commit proceeds.
//   - A panic in OnCommit is recovered and handled exactly like a returned
//     error.
//   - Panics in row-change and rollback listeners are recovered, logged and
//     reported as HOOK_DISPATCH failures.
//
// Nothing a listener does unwinds into engine code.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/sqlbridge/internal/attach"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/registry"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// PanicError carries a value recovered from a listener.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panic: %v", e.Value)
}

// Dispatcher routes engine callbacks to listeners.
type Dispatcher struct {
	registry  *registry.Registry
	threads   *attach.Cache
	clock     Sequencer
	tokens    TokenGenerator
	veto      bool
	logger    *slog.Logger
	onFailure func(error)

	txMu sync.Mutex
	tx   map[native.ConnHandle]string

	failures atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCommitVeto lets a failing OnCommit abort the transaction.
// Default: off.
func WithCommitVeto(enabled bool) Option {
	return func(d *Dispatcher) {
		d.veto = enabled
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// Sequencer issues event sequence numbers. Clock is the default.
type Sequencer interface {
	Next() int64
	Current() int64
}

// WithClock replaces the sequence clock, e.g. to resume numbering.
func WithClock(c Sequencer) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithTokenGenerator replaces the UUIDv7 transaction tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(d *Dispatcher) {
		d.tokens = g
	}
}

// WithFailureHandler observes HOOK_DISPATCH failures. The handler runs on
// the callback thread and must not block.
func WithFailureHandler(fn func(error)) Option {
	return func(d *Dispatcher) {
		d.onFailure = fn
	}
}

// New creates a dispatcher over reg. threads tracks callback threads.
func New(reg *registry.Registry, threads *attach.Cache, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		threads:  threads,
		clock:    NewClock(),
		tokens:   UUIDv7Generator{},
		logger:   slog.Default(),
		tx:       make(map[native.ConnHandle]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// VetoEnabled reports whether commit vetoes are honored.
func (d *Dispatcher) VetoEnabled() bool {
	return d.veto
}

// Failures counts HOOK_DISPATCH failures so far.
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}

// Clock returns the sequence clock.
func (d *Dispatcher) Clock() Sequencer {
	return d.clock
}

func (d *Dispatcher) RowChanged(thread native.ThreadID, db native.ConnHandle, op int, dbName, table native.CString, rowID int64) {
	b, ok := d.registry.Lookup(db)
	l, isListener := b.Listener.(hook.RowChangeListener)
	if !ok || !isListener || !b.Capabilities.Has(hook.CapRowChange) {
		eventsDropped.WithLabelValues(eventRowChange).Inc()
		return
	}

	env, exit := d.threads.Enter(thread)
	defer exit()

	ev := hook.RowChange{
		Tx:       d.txFor(db),
		Conn:     db,
		Op:       hook.Op(op),
		Database: dbName.String(),
		Table:    table.String(),
		RowID:    rowID,
	}
	ev.Seq = d.clock.Next()

	if err := call(func() error { l.OnRowChange(ev); return nil }); err != nil {
		d.fail(env, eventRowChange, db, err)
		return
	}
	eventsDelivered.WithLabelValues(eventRowChange).Inc()
}

func (d *Dispatcher) Committing(thread native.ThreadID, db native.ConnHandle) bool {
	b, ok := d.registry.Lookup(db)
	l, isListener := b.Listener.(hook.CommitListener)
	if !ok || !isListener || !b.Capabilities.Has(hook.CapCommit) {
		eventsDropped.WithLabelValues(eventCommit).Inc()
		d.endTx(db)
		return false
	}

	env, exit := d.threads.Enter(thread)
	defer exit()

	ev := hook.Commit{Tx: d.txFor(db), Conn: db}
	ev.Seq = d.clock.Next()

	err := call(func() error { return l.OnCommit(ev) })
	if err == nil {
		eventsDelivered.WithLabelValues(eventCommit).Inc()
		d.endTx(db)
		return false
	}

	_, panicked := err.(*PanicError)
	if d.veto {
		if panicked {
			d.fail(env, eventCommit, db, err)
		} else {
			eventsDelivered.WithLabelValues(eventCommit).Inc()
		}
		commitsVetoed.Inc()
		d.logger.Info("commit vetoed", "thread", uintptr(env.Thread), "conn", uintptr(db), "tx", ev.Tx, "reason", err)
		// The rollback that follows belongs to the same transaction.
		return true
	}

	d.fail(env, eventCommit, db, err)
	d.endTx(db)
	return false
}

func (d *Dispatcher) RolledBack(thread native.ThreadID, db native.ConnHandle) {
	b, ok := d.registry.Lookup(db)
	l, isListener := b.Listener.(hook.RollbackListener)
	if !ok || !isListener || !b.Capabilities.Has(hook.CapRollback) {
		eventsDropped.WithLabelValues(eventRollback).Inc()
		d.endTx(db)
		return
	}

	env, exit := d.threads.Enter(thread)
	defer exit()

	ev := hook.Rollback{Tx: d.txFor(db), Conn: db}
	ev.Seq = d.clock.Next()
	d.endTx(db)

	if err := call(func() error { l.OnRollback(ev); return nil }); err != nil {
		d.fail(env, eventRollback, db, err)
		return
	}
	eventsDelivered.WithLabelValues(eventRollback).Inc()
}

// Forget drops per-connection state when a connection closes.
func (d *Dispatcher) Forget(db native.ConnHandle) {
	d.endTx(db)
}

func (d *Dispatcher) txFor(db native.ConnHandle) string {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	tok, ok := d.tx[db]
	if !ok {
		tok = d.tokens.Generate()
		d.tx[db] = tok
	}
	return tok
}

func (d *Dispatcher) endTx(db native.ConnHandle) {
	d.txMu.Lock()
	delete(d.tx, db)
	d.txMu.Unlock()
}

func (d *Dispatcher) fail(env *attach.Env, event string, db native.ConnHandle, err error) {
	d.failures.Add(1)
	listenerFailures.WithLabelValues(event).Inc()
	d.logger.Warn("listener failed", "event", event, "thread", uintptr(env.Thread), "conn", uintptr(db), "error", err)
	if d.onFailure == nil {
		return
	}
	ferr := sqlerr.New(sqlerr.FailureHookDispatch, native.ResultError,
		fmt.Sprintf("%s listener: %v", event, err))
	if herr := call(func() error { d.onFailure(ferr); return nil }); herr != nil {
		d.logger.Warn("failure handler failed", "event", event, "conn", uintptr(db), "error", herr)
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
