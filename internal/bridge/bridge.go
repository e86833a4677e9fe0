// Package bridge is the host-facing surface over the native engine:
// connections, prepared statements, typed binds and column extraction, and
// listener registration for change notifications.
//
// Every native call is validated first. Statement operations reject a
// finalized statement, column access without a positioned row, and
// out-of-range bind or column indexes before reaching the engine. Every
// non-success result code becomes a *sqlerr.Error carrying the engine's
// code and message unmodified.
//
// A Conn owns one native thread context and a mutex. All operations on the
// connection and its statements serialize on that mutex, so a connection
// can be shared between goroutines but runs one engine call at a time.
// Hooks fire inside Step on the connection's own thread.
//
// Close refuses to close a connection that still has unfinalized
// statements: it returns a CLOSE error with SQLITE_BUSY and leaves the
// connection open and usable.
package bridge

import (
	"log/slog"
	"time"

	"github.com/roach88/sqlbridge/internal/attach"
	"github.com/roach88/sqlbridge/internal/dispatch"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/registry"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Bridge opens connections and owns the shared registry and dispatcher.
type Bridge struct {
	engine   native.Engine
	registry *registry.Registry
	threads  *attach.Cache
	dispatch *dispatch.Dispatcher

	extendedCodes bool
	busyTimeout   time.Duration
	extensions    bool
	logger        *slog.Logger

	dispatchOpts []dispatch.Option
	attachOpts   []attach.Option
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithExtendedResultCodes toggles extended codes on new connections.
// Default: on.
func WithExtendedResultCodes(on bool) Option {
	return func(b *Bridge) {
		b.extendedCodes = on
	}
}

// WithBusyTimeout sets the engine's busy timeout on new connections.
func WithBusyTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.busyTimeout = d
	}
}

// WithExtensionLoading allows Conn.LoadExtension. Default: on.
func WithExtensionLoading(on bool) Option {
	return func(b *Bridge) {
		b.extensions = on
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithCommitVeto lets a listener's OnCommit error abort the commit.
// Default: off.
func WithCommitVeto(on bool) Option {
	return func(b *Bridge) {
		b.dispatchOpts = append(b.dispatchOpts, dispatch.WithCommitVeto(on))
	}
}

// WithDetachPolicy sets how foreign callback threads are detached.
func WithDetachPolicy(p attach.Policy) Option {
	return func(b *Bridge) {
		b.attachOpts = append(b.attachOpts, attach.WithPolicy(p))
	}
}

// WithDispatchOptions passes options through to the dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(b *Bridge) {
		b.dispatchOpts = append(b.dispatchOpts, opts...)
	}
}

// New creates a bridge over engine.
func New(engine native.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		engine:        engine,
		extendedCodes: true,
		extensions:    true,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.registry = registry.New(registry.WithLogger(b.logger))
	b.threads = attach.New(append([]attach.Option{attach.WithLogger(b.logger)}, b.attachOpts...)...)
	b.dispatch = dispatch.New(b.registry, b.threads,
		append([]dispatch.Option{dispatch.WithLogger(b.logger)}, b.dispatchOpts...)...)
	return b
}

// Registry returns the listener registry shared by all connections.
func (b *Bridge) Registry() *registry.Registry {
	return b.registry
}

// Threads returns the callback thread cache.
func (b *Bridge) Threads() *attach.Cache {
	return b.threads
}

// Dispatcher returns the hook dispatcher.
func (b *Bridge) Dispatcher() *dispatch.Dispatcher {
	return b.dispatch
}

// Open opens path with flags and installs change hooks. Flags of zero mean
// native.DefaultOpenFlags.
func (b *Bridge) Open(path string, flags native.OpenFlags) (*Conn, error) {
	if flags == 0 {
		flags = native.DefaultOpenFlags
	}
	th := b.engine.NewThread()
	b.threads.Adopt(th.ID())

	db, rc, msg := b.engine.Open(th, path, flags)
	if rc != native.ResultOK {
		b.threads.Forget(th.ID())
		th.Close()
		return nil, sqlerr.New(sqlerr.FailureOpen, rc, msg)
	}

	c := &Conn{
		bridge: b,
		thread: th,
		db:     db,
		path:   path,
		stmts:  make(map[native.StmtHandle]*Stmt),
	}
	if err := c.configure(); err != nil {
		b.engine.Close(th, db)
		b.threads.Forget(th.ID())
		th.Close()
		return nil, err
	}
	b.logger.Debug("connection opened", "path", path, "conn", uintptr(db), "flags", int32(flags))
	return c, nil
}

func (c *Conn) configure() error {
	e := c.bridge.engine
	if rc := e.ExtendedResultCodes(c.thread, c.db, c.bridge.extendedCodes); rc != native.ResultOK {
		return sqlerr.New(sqlerr.FailureConfigure, rc, e.ErrStr(c.thread, rc))
	}
	if c.bridge.busyTimeout > 0 {
		ms := int(c.bridge.busyTimeout / time.Millisecond)
		if rc := e.BusyTimeout(c.thread, c.db, ms); rc != native.ResultOK {
			return sqlerr.New(sqlerr.FailureConfigure, rc, e.ErrMsg(c.thread, c.db))
		}
	}
	if rc := e.InstallHooks(c.thread, c.db, c.bridge.dispatch); rc != native.ResultOK {
		return sqlerr.New(sqlerr.FailureConfigure, rc, e.ErrStr(c.thread, rc))
	}
	return nil
}
