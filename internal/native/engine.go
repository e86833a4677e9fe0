package native

import "modernc.org/libc"

// ConnHandle identifies one open native connection. Zero is never valid.
type ConnHandle uintptr

// StmtHandle identifies one prepared statement. Zero is never valid.
type StmtHandle uintptr

// ThreadID identifies the execution context a hook was delivered on.
type ThreadID uintptr

// Thread is a host execution context for engine calls.
type Thread interface {
	ID() ThreadID
	Close()
}

// CString is a string owned by the engine for the duration of one callback.
// String copies it into Go memory; a CString must not be retained.
type CString struct {
	ptr uintptr
	str string
}

// GoCString wraps a Go string so in-process producers can feed a HookSink.
func GoCString(s string) CString {
	return CString{str: s}
}

func (c CString) String() string {
	if c.ptr == 0 {
		return c.str
	}
	return libc.GoString(c.ptr)
}

// HookSink receives engine notifications for connections with installed
// hooks. Implementations must not panic and must return promptly: the
// engine is blocked inside Step until they do.
type HookSink interface {
	RowChanged(thread ThreadID, db ConnHandle, op int, dbName, table CString, rowID int64)
	// Committing returns true to veto the commit. The engine then rolls the
	// transaction back and reports SQLITE_CONSTRAINT_COMMITHOOK.
	Committing(thread ThreadID, db ConnHandle) (veto bool)
	RolledBack(thread ThreadID, db ConnHandle)
}

// Engine is the consumed surface of the native library.
type Engine interface {
	NewThread() Thread

	Open(t Thread, path string, flags OpenFlags) (ConnHandle, ResultCode, string)
	Close(t Thread, db ConnHandle) ResultCode
	ExtendedResultCodes(t Thread, db ConnHandle, on bool) ResultCode
	BusyTimeout(t Thread, db ConnHandle, ms int) ResultCode
	ErrCode(t Thread, db ConnHandle) ResultCode
	ErrMsg(t Thread, db ConnHandle) string
	ErrStr(t Thread, rc ResultCode) string
	Autocommit(t Thread, db ConnHandle) bool
	Changes(t Thread, db ConnHandle) int64
	LastInsertRowID(t Thread, db ConnHandle) int64

	Prepare(t Thread, db ConnHandle, sql []byte) (StmtHandle, int, ResultCode)
	Prepare16(t Thread, db ConnHandle, sql []uint16) (StmtHandle, int, ResultCode)
	Finalize(t Thread, st StmtHandle) ResultCode
	Reset(t Thread, st StmtHandle) ResultCode
	ClearBindings(t Thread, st StmtHandle) ResultCode
	StmtBusy(t Thread, st StmtHandle) bool

	BindParameterCount(t Thread, st StmtHandle) int
	BindNull(t Thread, st StmtHandle, i int) ResultCode
	BindInt64(t Thread, st StmtHandle, i int, v int64) ResultCode
	BindDouble(t Thread, st StmtHandle, i int, v float64) ResultCode
	BindText(t Thread, st StmtHandle, i int, v string) ResultCode
	BindText16(t Thread, st StmtHandle, i int, v []uint16) ResultCode
	BindBlob(t Thread, st StmtHandle, i int, v []byte) ResultCode

	Step(t Thread, st StmtHandle) ResultCode

	ColumnCount(t Thread, st StmtHandle) int
	ColumnName(t Thread, st StmtHandle, i int) (string, bool)
	ColumnType(t Thread, st StmtHandle, i int) ColumnType
	ColumnInt64(t Thread, st StmtHandle, i int) int64
	ColumnDouble(t Thread, st StmtHandle, i int) float64
	// ColumnText, ColumnText16 and ColumnBlob copy the cell. The bool is
	// false when the engine returned a null pointer or zero bytes; the
	// caller checks ErrCode for SQLITE_NOMEM to tell an allocation failure
	// from an empty value.
	ColumnText(t Thread, st StmtHandle, i int) ([]byte, bool)
	ColumnText16(t Thread, st StmtHandle, i int) ([]uint16, bool)
	ColumnBlob(t Thread, st StmtHandle, i int) ([]byte, bool)

	InstallHooks(t Thread, db ConnHandle, sink HookSink) ResultCode
	RemoveHooks(t Thread, db ConnHandle) ResultCode

	LoadExtension(t Thread, db ConnHandle, name, entry string) (ResultCode, string)
}
