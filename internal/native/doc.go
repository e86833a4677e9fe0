// Package native is the fixed function contract to the embedded SQL engine.
//
// Everything above this package sees the engine only through opaque handles
// (ConnHandle, StmtHandle) and result codes. Handles are never dereferenced
// outside this package; they are passed back to Engine methods and used as
// map keys.
//
// # Threads
//
// Each Engine call runs on a Thread, the host execution context the engine
// needs for its own bookkeeping (errno, stack allocations). A Thread must not
// be used by two goroutines at the same time. The bridge allocates one Thread
// per connection and serializes access with the connection mutex.
//
// # Hooks
//
// InstallHooks registers update, commit and rollback trampolines for one
// connection. The trampolines find their HookSink through an id carried as
// the callback argument, so any number of connections can have hooks at the
// same time. Hooks run synchronously inside Step; the engine waits for the
// sink to return.
//
// Lib is the Engine implementation backed by modernc.org/sqlite, the
// transpiled SQLite C library.
package native
