// Package attach tracks the host execution context of threads that deliver
// hook callbacks.
//
// Threads the host created itself (connection threads) are adopted and are
// never attached or detached by the cache. Any other thread is attached on
// its first callback. Under the Retain policy it stays attached until
// Forget; DetachAfterCall detaches when the outermost callback on that
// thread returns, which is only safe for threads that are not reused.
package attach

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/sqlbridge/internal/native"
)

// Policy decides when attached threads are detached.
type Policy int

const (
	// Retain keeps a thread attached until Forget.
	Retain Policy = iota
	// DetachAfterCall detaches once the outermost call returns.
	// Restricted to short-lived callback threads.
	DetachAfterCall
)

func (p Policy) String() string {
	switch p {
	case Retain:
		return "retain"
	case DetachAfterCall:
		return "detach_after_call"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the configuration names.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "retain":
		return Retain, nil
	case "detach_after_call":
		return DetachAfterCall, nil
	}
	return 0, fmt.Errorf("attach: unknown policy %q", s)
}

// Env is the host context established on one thread.
type Env struct {
	Thread native.ThreadID
	Logger *slog.Logger

	adopted bool
	depth   int
	calls   atomic.Int64
}

// Adopted reports whether the host owns the thread.
func (e *Env) Adopted() bool {
	return e.adopted
}

// Calls counts callbacks entered on this thread.
func (e *Env) Calls() int64 {
	return e.calls.Load()
}

// Cache holds one Env per known thread.
type Cache struct {
	mu     sync.Mutex
	envs   map[native.ThreadID]*Env
	policy Policy
	logger *slog.Logger

	attaches int64
	detaches int64

	onAttach func(native.ThreadID)
	onDetach func(native.ThreadID)
}

// Option configures a Cache.
type Option func(*Cache)

func WithPolicy(p Policy) Option {
	return func(c *Cache) {
		c.policy = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithHooks observes attach and detach transitions.
func WithHooks(onAttach, onDetach func(native.ThreadID)) Option {
	return func(c *Cache) {
		c.onAttach = onAttach
		c.onDetach = onDetach
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		envs:   make(map[native.ThreadID]*Env),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the detach policy.
func (c *Cache) Policy() Policy {
	return c.policy
}

// Adopt marks id as a host thread. Callbacks on it never attach or detach.
func (c *Cache) Adopt(id native.ThreadID) *Env {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, ok := c.envs[id]
	if !ok {
		env = &Env{Thread: id, Logger: c.logger.With("thread", uintptr(id))}
		c.envs[id] = env
	}
	env.adopted = true
	return env
}

// Enter returns the Env for id, attaching the thread when it is unknown.
// The returned func must be called when the callback returns.
func (c *Cache) Enter(id native.ThreadID) (*Env, func()) {
	c.mu.Lock()
	env, ok := c.envs[id]
	if !ok {
		env = &Env{Thread: id, Logger: c.logger.With("thread", uintptr(id))}
		c.envs[id] = env
		c.attaches++
	}
	env.depth++
	env.calls.Add(1)
	c.mu.Unlock()

	if !ok && c.onAttach != nil {
		c.onAttach(id)
	}
	return env, func() { c.exit(env) }
}

func (c *Cache) exit(env *Env) {
	c.mu.Lock()
	env.depth--
	detach := !env.adopted && env.depth == 0 && c.policy == DetachAfterCall
	if detach {
		delete(c.envs, env.Thread)
		c.detaches++
	}
	c.mu.Unlock()

	if detach && c.onDetach != nil {
		c.onDetach(env.Thread)
	}
}

// Forget drops id. Attached threads are detached; adopted threads are
// simply forgotten. A thread that is inside a callback is left in place.
func (c *Cache) Forget(id native.ThreadID) {
	c.mu.Lock()
	env, ok := c.envs[id]
	detach := ok && !env.adopted
	if ok && env.depth == 0 {
		delete(c.envs, id)
		if detach {
			c.detaches++
		}
	} else {
		detach = false
	}
	c.mu.Unlock()

	if detach && c.onDetach != nil {
		c.onDetach(id)
	}
}

// Attached reports whether id has an Env.
func (c *Cache) Attached(id native.ThreadID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.envs[id]
	return ok
}

// Len returns the number of known threads.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

// Stats returns attach and detach counts.
func (c *Cache) Stats() (attaches, detaches int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attaches, c.detaches
}
