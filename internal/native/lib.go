package native

import (
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

const ptrSize = types.Size_t(unsafe.Sizeof(uintptr(0)))

// Lib is the Engine backed by modernc.org/sqlite.
// Lib itself holds no state; all per-connection state lives in the engine
// or in the hook table.
type Lib struct{}

// NewLib returns the transpiled SQLite engine.
func NewLib() *Lib {
	return &Lib{}
}

type libThread struct {
	tls *libc.TLS
}

func (t *libThread) ID() ThreadID {
	return threadOf(t.tls)
}

func (t *libThread) Close() {
	t.tls.Close()
}

func threadOf(tls *libc.TLS) ThreadID {
	return ThreadID(uintptr(unsafe.Pointer(tls)))
}

func tlsOf(t Thread) *libc.TLS {
	lt, ok := t.(*libThread)
	if !ok || lt == nil {
		return nil
	}
	return lt.tls
}

// NewThread allocates a fresh libc thread context.
func (l *Lib) NewThread() Thread {
	return &libThread{tls: libc.NewTLS()}
}

func (l *Lib) Open(t Thread, path string, flags OpenFlags) (ConnHandle, ResultCode, string) {
	tls := tlsOf(t)
	if tls == nil {
		return 0, ResultMisuse, "foreign thread context"
	}
	zName, err := libc.CString(path)
	if err != nil {
		return 0, ResultNoMem, err.Error()
	}
	defer libc.Xfree(tls, zName)

	ppDb := libc.Xmalloc(tls, ptrSize)
	if ppDb == 0 {
		return 0, ResultNoMem, "out of memory"
	}
	defer libc.Xfree(tls, ppDb)
	*(*uintptr)(unsafe.Pointer(ppDb)) = 0

	rc := ResultCode(sqlite3.Xsqlite3_open_v2(tls, zName, ppDb, int32(flags), 0))
	db := *(*uintptr)(unsafe.Pointer(ppDb))
	if rc != ResultOK {
		msg := libc.GoString(sqlite3.Xsqlite3_errstr(tls, int32(rc)))
		if db != 0 {
			// open_v2 hands back a handle even on failure so the message can be read.
			if ext := ResultCode(sqlite3.Xsqlite3_extended_errcode(tls, db)); ext != 0 {
				rc = ext
			}
			msg = libc.GoString(sqlite3.Xsqlite3_errmsg(tls, db))
			sqlite3.Xsqlite3_close_v2(tls, db)
		}
		return 0, rc, msg
	}
	if db == 0 {
		return 0, ResultNoMem, "out of memory"
	}
	return ConnHandle(db), ResultOK, ""
}

func (l *Lib) Close(t Thread, db ConnHandle) ResultCode {
	tls := tlsOf(t)
	if tls == nil || db == 0 {
		return ResultMisuse
	}
	rc := ResultCode(sqlite3.Xsqlite3_close(tls, uintptr(db)))
	if rc == ResultOK {
		dropHookTarget(db)
	}
	return rc
}

func (l *Lib) ExtendedResultCodes(t Thread, db ConnHandle, on bool) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_extended_result_codes(tlsOf(t), uintptr(db), libc.Bool32(on)))
}

func (l *Lib) BusyTimeout(t Thread, db ConnHandle, ms int) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_busy_timeout(tlsOf(t), uintptr(db), int32(ms)))
}

func (l *Lib) ErrCode(t Thread, db ConnHandle) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_errcode(tlsOf(t), uintptr(db)))
}

func (l *Lib) ErrMsg(t Thread, db ConnHandle) string {
	return libc.GoString(sqlite3.Xsqlite3_errmsg(tlsOf(t), uintptr(db)))
}

func (l *Lib) ErrStr(t Thread, rc ResultCode) string {
	return libc.GoString(sqlite3.Xsqlite3_errstr(tlsOf(t), int32(rc)))
}

func (l *Lib) Autocommit(t Thread, db ConnHandle) bool {
	return sqlite3.Xsqlite3_get_autocommit(tlsOf(t), uintptr(db)) != 0
}

func (l *Lib) Changes(t Thread, db ConnHandle) int64 {
	return int64(sqlite3.Xsqlite3_changes(tlsOf(t), uintptr(db)))
}

func (l *Lib) LastInsertRowID(t Thread, db ConnHandle) int64 {
	return sqlite3.Xsqlite3_last_insert_rowid(tlsOf(t), uintptr(db))
}

// Prepare compiles the first statement in sql, passing the byte length
// explicitly. The returned offset is where the unconsumed tail starts.
func (l *Lib) Prepare(t Thread, db ConnHandle, sql []byte) (StmtHandle, int, ResultCode) {
	tls := tlsOf(t)
	n := len(sql)
	zSQL := libc.Xmalloc(tls, types.Size_t(n+1))
	if zSQL == 0 {
		return 0, 0, ResultNoMem
	}
	defer libc.Xfree(tls, zSQL)
	buf := (*libc.RawMem)(unsafe.Pointer(zSQL))[: n+1 : n+1]
	copy(buf, sql)
	buf[n] = 0

	return l.prepare(tls, db, zSQL, n, 1, sqlite3.Xsqlite3_prepare_v2)
}

// Prepare16 compiles UTF-16 text in native byte order. The tail offset is
// counted in code units.
func (l *Lib) Prepare16(t Thread, db ConnHandle, sql []uint16) (StmtHandle, int, ResultCode) {
	tls := tlsOf(t)
	n := len(sql)
	zSQL := libc.Xmalloc(tls, types.Size_t(2*(n+1)))
	if zSQL == 0 {
		return 0, 0, ResultNoMem
	}
	defer libc.Xfree(tls, zSQL)
	units := unsafe.Slice((*uint16)(unsafe.Pointer(zSQL)), n+1)
	copy(units, sql)
	units[n] = 0

	return l.prepare(tls, db, zSQL, 2*n, 2, sqlite3.Xsqlite3_prepare16_v2)
}

type prepareFunc func(tls *libc.TLS, db, zSQL uintptr, nByte int32, ppStmt, pzTail uintptr) int32

func (l *Lib) prepare(tls *libc.TLS, db ConnHandle, zSQL uintptr, nByte, unit int, fn prepareFunc) (StmtHandle, int, ResultCode) {
	pp := libc.Xmalloc(tls, 2*ptrSize)
	if pp == 0 {
		return 0, 0, ResultNoMem
	}
	defer libc.Xfree(tls, pp)
	ppStmt, pzTail := pp, pp+uintptr(ptrSize)
	*(*uintptr)(unsafe.Pointer(ppStmt)) = 0
	*(*uintptr)(unsafe.Pointer(pzTail)) = 0

	rc := ResultCode(fn(tls, uintptr(db), zSQL, int32(nByte), ppStmt, pzTail))
	if rc != ResultOK {
		return 0, 0, rc
	}
	tail := nByte
	if p := *(*uintptr)(unsafe.Pointer(pzTail)); p != 0 {
		tail = int(p - zSQL)
	}
	return StmtHandle(*(*uintptr)(unsafe.Pointer(ppStmt))), tail / unit, ResultOK
}

func (l *Lib) Finalize(t Thread, st StmtHandle) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_finalize(tlsOf(t), uintptr(st)))
}

func (l *Lib) Reset(t Thread, st StmtHandle) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_reset(tlsOf(t), uintptr(st)))
}

func (l *Lib) ClearBindings(t Thread, st StmtHandle) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_clear_bindings(tlsOf(t), uintptr(st)))
}

func (l *Lib) StmtBusy(t Thread, st StmtHandle) bool {
	return sqlite3.Xsqlite3_stmt_busy(tlsOf(t), uintptr(st)) != 0
}

func (l *Lib) BindParameterCount(t Thread, st StmtHandle) int {
	return int(sqlite3.Xsqlite3_bind_parameter_count(tlsOf(t), uintptr(st)))
}

func (l *Lib) BindNull(t Thread, st StmtHandle, i int) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_bind_null(tlsOf(t), uintptr(st), int32(i)))
}

func (l *Lib) BindInt64(t Thread, st StmtHandle, i int, v int64) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_bind_int64(tlsOf(t), uintptr(st), int32(i), v))
}

func (l *Lib) BindDouble(t Thread, st StmtHandle, i int, v float64) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_bind_double(tlsOf(t), uintptr(st), int32(i), v))
}

// BindText copies v into engine memory and binds it with the transient
// policy, so the engine takes its own copy and the buffer is freed before
// returning.
func (l *Lib) BindText(t Thread, st StmtHandle, i int, v string) ResultCode {
	tls := tlsOf(t)
	p, rc := copyIn(tls, unsafe.Slice(unsafe.StringData(v), len(v)))
	if rc != ResultOK {
		return rc
	}
	defer libc.Xfree(tls, p)
	return ResultCode(sqlite3.Xsqlite3_bind_text(tls, uintptr(st), int32(i), p, int32(len(v)), sqlite3.SQLITE_TRANSIENT))
}

func (l *Lib) BindText16(t Thread, st StmtHandle, i int, v []uint16) ResultCode {
	tls := tlsOf(t)
	var raw []byte
	if len(v) > 0 {
		raw = unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), 2*len(v))
	}
	p, rc := copyIn(tls, raw)
	if rc != ResultOK {
		return rc
	}
	defer libc.Xfree(tls, p)
	return ResultCode(sqlite3.Xsqlite3_bind_text16(tls, uintptr(st), int32(i), p, int32(2*len(v)), sqlite3.SQLITE_TRANSIENT))
}

func (l *Lib) BindBlob(t Thread, st StmtHandle, i int, v []byte) ResultCode {
	tls := tlsOf(t)
	p, rc := copyIn(tls, v)
	if rc != ResultOK {
		return rc
	}
	defer libc.Xfree(tls, p)
	return ResultCode(sqlite3.Xsqlite3_bind_blob(tls, uintptr(st), int32(i), p, int32(len(v)), sqlite3.SQLITE_TRANSIENT))
}

// copyIn allocates at least one byte: a null data pointer would bind NULL
// instead of an empty value.
func copyIn(tls *libc.TLS, b []byte) (uintptr, ResultCode) {
	n := len(b)
	size := n
	if size == 0 {
		size = 1
	}
	p := libc.Xmalloc(tls, types.Size_t(size))
	if p == 0 {
		return 0, ResultNoMem
	}
	if n > 0 {
		copy((*libc.RawMem)(unsafe.Pointer(p))[:n:n], b)
	}
	return p, ResultOK
}

func (l *Lib) Step(t Thread, st StmtHandle) ResultCode {
	return ResultCode(sqlite3.Xsqlite3_step(tlsOf(t), uintptr(st)))
}

func (l *Lib) ColumnCount(t Thread, st StmtHandle) int {
	return int(sqlite3.Xsqlite3_column_count(tlsOf(t), uintptr(st)))
}

func (l *Lib) ColumnName(t Thread, st StmtHandle, i int) (string, bool) {
	p := sqlite3.Xsqlite3_column_name(tlsOf(t), uintptr(st), int32(i))
	if p == 0 {
		return "", false
	}
	return libc.GoString(p), true
}

func (l *Lib) ColumnType(t Thread, st StmtHandle, i int) ColumnType {
	return ColumnType(sqlite3.Xsqlite3_column_type(tlsOf(t), uintptr(st), int32(i)))
}

func (l *Lib) ColumnInt64(t Thread, st StmtHandle, i int) int64 {
	return sqlite3.Xsqlite3_column_int64(tlsOf(t), uintptr(st), int32(i))
}

func (l *Lib) ColumnDouble(t Thread, st StmtHandle, i int) float64 {
	return sqlite3.Xsqlite3_column_double(tlsOf(t), uintptr(st), int32(i))
}

func (l *Lib) ColumnText(t Thread, st StmtHandle, i int) ([]byte, bool) {
	tls := tlsOf(t)
	p := sqlite3.Xsqlite3_column_text(tls, uintptr(st), int32(i))
	if p == 0 {
		return []byte{}, false
	}
	n := int(sqlite3.Xsqlite3_column_bytes(tls, uintptr(st), int32(i)))
	if n == 0 {
		return []byte{}, false
	}
	return copyOut(p, n), true
}

func (l *Lib) ColumnText16(t Thread, st StmtHandle, i int) ([]uint16, bool) {
	tls := tlsOf(t)
	p := sqlite3.Xsqlite3_column_text16(tls, uintptr(st), int32(i))
	if p == 0 {
		return []uint16{}, false
	}
	n := int(sqlite3.Xsqlite3_column_bytes16(tls, uintptr(st), int32(i))) / 2
	if n == 0 {
		return []uint16{}, false
	}
	out := make([]uint16, n)
	copy(out, unsafe.Slice((*uint16)(unsafe.Pointer(p)), n))
	return out, true
}

func (l *Lib) ColumnBlob(t Thread, st StmtHandle, i int) ([]byte, bool) {
	tls := tlsOf(t)
	p := sqlite3.Xsqlite3_column_blob(tls, uintptr(st), int32(i))
	if p == 0 {
		return []byte{}, false
	}
	n := int(sqlite3.Xsqlite3_column_bytes(tls, uintptr(st), int32(i)))
	if n == 0 {
		return []byte{}, false
	}
	return copyOut(p, n), true
}

func copyOut(p uintptr, n int) []byte {
	b := make([]byte, n)
	if n > 0 {
		copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	}
	return b
}
