// Package registry maps native connection handles to listener bindings.
//
// A Registry is the only shared mutable structure between the host and
// hook callbacks. Register, Lookup and Unregister each run under one
// RWMutex, so a Lookup from a hook observes every registration that
// completed before the statement that fired the hook started.
//
// Each binding owns a durable Ref to its listener. The Ref is released
// exactly once: when the binding is replaced, unregistered, or when the
// registry is closed.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
)

// ErrNilListener is returned when registering a nil listener.
var ErrNilListener = errors.New("registry: nil listener")

// Binding is the context stored for one connection.
type Binding struct {
	Conn         native.ConnHandle
	Listener     hook.Listener
	Capabilities hook.Capability
	Ref          *Ref
}

// Ref is a durable reference to a listener.
type Ref struct {
	id       uint64
	once     sync.Once
	released atomic.Bool
	onFree   func()
}

// ID is unique within the registry that issued the Ref.
func (r *Ref) ID() uint64 {
	return r.id
}

// Released reports whether Release has run.
func (r *Ref) Released() bool {
	return r.released.Load()
}

// Release drops the reference. Calls after the first do nothing.
func (r *Ref) Release() {
	r.once.Do(func() {
		r.released.Store(true)
		if r.onFree != nil {
			r.onFree()
		}
	})
}

// Registry holds at most one Binding per connection handle.
type Registry struct {
	mu      sync.RWMutex
	entries map[native.ConnHandle]*Binding

	nextRef atomic.Uint64
	live    atomic.Int64
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[native.ConnHandle]*Binding),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs or replaces the binding for db. caps of zero means
// every capability the listener implements; otherwise each requested
// capability must be implemented.
func (r *Registry) Register(db native.ConnHandle, l hook.Listener, caps hook.Capability) error {
	if l == nil {
		return ErrNilListener
	}
	impl := hook.CapabilitiesOf(l)
	if caps == 0 {
		caps = impl
	} else if !impl.Has(caps) {
		return fmt.Errorf("registry: listener %T lacks capabilities %s", l, caps&^impl)
	}

	ref := &Ref{id: r.nextRef.Add(1)}
	ref.onFree = func() { r.live.Add(-1) }
	r.live.Add(1)

	b := &Binding{Conn: db, Listener: l, Capabilities: caps, Ref: ref}

	r.mu.Lock()
	old := r.entries[db]
	r.entries[db] = b
	r.mu.Unlock()

	if old != nil {
		old.Ref.Release()
		r.logger.Debug("listener replaced", "conn", uintptr(db), "old_ref", old.Ref.id, "new_ref", ref.id)
	}
	return nil
}

// Lookup returns a copy of the binding for db. A missing binding is a
// normal state, not an error.
func (r *Registry) Lookup(db native.ConnHandle) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.entries[db]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// Unregister removes the binding for db and releases its reference.
// Unregistering an unknown handle does nothing.
func (r *Registry) Unregister(db native.ConnHandle) {
	r.mu.Lock()
	b, ok := r.entries[db]
	if ok {
		delete(r.entries, db)
	}
	r.mu.Unlock()

	if ok {
		b.Ref.Release()
	}
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LiveRefs counts references issued and not yet released.
func (r *Registry) LiveRefs() int64 {
	return r.live.Load()
}

// Close unregisters everything.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[native.ConnHandle]*Binding)
	r.mu.Unlock()

	for _, b := range entries {
		b.Ref.Release()
	}
}
