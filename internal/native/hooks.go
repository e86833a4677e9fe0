package native

import (
	"math/bits"
	"sync"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// The engine only carries a pointer-sized argument through a hook. Each
// connection with installed hooks gets an id from ids; the trampolines use
// it to find the connection's target.
var xHooks = struct {
	mu     sync.RWMutex
	byID   map[uintptr]*hookTarget
	byConn map[ConnHandle]uintptr
	ids    idGen
}{
	byID:   make(map[uintptr]*hookTarget),
	byConn: make(map[ConnHandle]uintptr),
}

type hookTarget struct {
	db   ConnHandle
	sink HookSink
}

func (l *Lib) InstallHooks(t Thread, db ConnHandle, sink HookSink) ResultCode {
	tls := tlsOf(t)
	if tls == nil || db == 0 || sink == nil {
		return ResultMisuse
	}

	xHooks.mu.Lock()
	id, ok := xHooks.byConn[db]
	if !ok {
		id = xHooks.ids.next()
		xHooks.byConn[db] = id
	}
	xHooks.byID[id] = &hookTarget{db: db, sink: sink}
	xHooks.mu.Unlock()

	sqlite3.Xsqlite3_update_hook(tls, uintptr(db), cFuncPointer(updateTrampoline), id)
	sqlite3.Xsqlite3_commit_hook(tls, uintptr(db), cFuncPointer(commitTrampoline), id)
	sqlite3.Xsqlite3_rollback_hook(tls, uintptr(db), cFuncPointer(rollbackTrampoline), id)
	return ResultOK
}

func (l *Lib) RemoveHooks(t Thread, db ConnHandle) ResultCode {
	tls := tlsOf(t)
	if tls == nil || db == 0 {
		return ResultMisuse
	}
	sqlite3.Xsqlite3_update_hook(tls, uintptr(db), 0, 0)
	sqlite3.Xsqlite3_commit_hook(tls, uintptr(db), 0, 0)
	sqlite3.Xsqlite3_rollback_hook(tls, uintptr(db), 0, 0)
	dropHookTarget(db)
	return ResultOK
}

func dropHookTarget(db ConnHandle) {
	xHooks.mu.Lock()
	defer xHooks.mu.Unlock()
	id, ok := xHooks.byConn[db]
	if !ok {
		return
	}
	delete(xHooks.byConn, db)
	delete(xHooks.byID, id)
	xHooks.ids.reclaim(id)
}

func lookupHookTarget(id uintptr) *hookTarget {
	xHooks.mu.RLock()
	defer xHooks.mu.RUnlock()
	return xHooks.byID[id]
}

func updateTrampoline(tls *libc.TLS, pArg uintptr, op int32, zDb, zTbl uintptr, rowid int64) {
	target := lookupHookTarget(pArg)
	if target == nil {
		return
	}
	target.sink.RowChanged(threadOf(tls), target.db, int(op), CString{ptr: zDb}, CString{ptr: zTbl}, rowid)
}

func commitTrampoline(tls *libc.TLS, pArg uintptr) int32 {
	target := lookupHookTarget(pArg)
	if target == nil {
		return 0
	}
	if target.sink.Committing(threadOf(tls), target.db) {
		return 1
	}
	return 0
}

func rollbackTrampoline(tls *libc.TLS, pArg uintptr) {
	target := lookupHookTarget(pArg)
	if target == nil {
		return
	}
	target.sink.RolledBack(threadOf(tls), target.db)
}

// idGen hands out small non-zero ids and reuses reclaimed ones.
type idGen struct {
	bitset []uint64
}

func (gen *idGen) next() uintptr {
	base := uintptr(1)
	for i := 0; i < len(gen.bitset); i, base = i+1, base+64 {
		b := gen.bitset[i]
		if b != 1<<64-1 {
			n := uintptr(bits.TrailingZeros64(^b))
			gen.bitset[i] |= 1 << n
			return base + n
		}
	}
	gen.bitset = append(gen.bitset, 1)
	return base
}

func (gen *idGen) reclaim(id uintptr) {
	bit := id - 1
	gen.bitset[bit/64] &^= 1 << (bit % 64)
}

// cFuncPointer converts a function declaration (never a closure) to the
// pointer form the transpiled engine calls through.
func cFuncPointer[T any](f T) uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct{ f T }{f}))
}
