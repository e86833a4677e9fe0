package native

import (
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"
)

// ResultCode is a native engine result code. With extended result codes
// enabled the low byte is the primary code and the upper bits refine it.
type ResultCode int32

const (
	ResultOK         ResultCode = sqlite3.SQLITE_OK
	ResultError      ResultCode = sqlite3.SQLITE_ERROR
	ResultInternal   ResultCode = sqlite3.SQLITE_INTERNAL
	ResultPerm       ResultCode = sqlite3.SQLITE_PERM
	ResultAbort      ResultCode = sqlite3.SQLITE_ABORT
	ResultBusy       ResultCode = sqlite3.SQLITE_BUSY
	ResultLocked     ResultCode = sqlite3.SQLITE_LOCKED
	ResultNoMem      ResultCode = sqlite3.SQLITE_NOMEM
	ResultReadOnly   ResultCode = sqlite3.SQLITE_READONLY
	ResultInterrupt  ResultCode = sqlite3.SQLITE_INTERRUPT
	ResultIOErr      ResultCode = sqlite3.SQLITE_IOERR
	ResultCorrupt    ResultCode = sqlite3.SQLITE_CORRUPT
	ResultNotFound   ResultCode = sqlite3.SQLITE_NOTFOUND
	ResultFull       ResultCode = sqlite3.SQLITE_FULL
	ResultCantOpen   ResultCode = sqlite3.SQLITE_CANTOPEN
	ResultProtocol   ResultCode = sqlite3.SQLITE_PROTOCOL
	ResultEmpty      ResultCode = sqlite3.SQLITE_EMPTY
	ResultSchema     ResultCode = sqlite3.SQLITE_SCHEMA
	ResultTooBig     ResultCode = sqlite3.SQLITE_TOOBIG
	ResultConstraint ResultCode = sqlite3.SQLITE_CONSTRAINT
	ResultMismatch   ResultCode = sqlite3.SQLITE_MISMATCH
	ResultMisuse     ResultCode = sqlite3.SQLITE_MISUSE
	ResultNoLFS      ResultCode = sqlite3.SQLITE_NOLFS
	ResultAuth       ResultCode = sqlite3.SQLITE_AUTH
	ResultFormat     ResultCode = sqlite3.SQLITE_FORMAT
	ResultRange      ResultCode = sqlite3.SQLITE_RANGE
	ResultNotADB     ResultCode = sqlite3.SQLITE_NOTADB
	ResultNotice     ResultCode = sqlite3.SQLITE_NOTICE
	ResultWarning    ResultCode = sqlite3.SQLITE_WARNING
	ResultRow        ResultCode = sqlite3.SQLITE_ROW
	ResultDone       ResultCode = sqlite3.SQLITE_DONE

	ResultConstraintCommitHook ResultCode = sqlite3.SQLITE_CONSTRAINT_COMMITHOOK
	ResultConstraintUnique     ResultCode = sqlite3.SQLITE_CONSTRAINT_UNIQUE
	ResultConstraintNotNull    ResultCode = sqlite3.SQLITE_CONSTRAINT_NOTNULL
	ResultConstraintPrimaryKey ResultCode = sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
)

var resultNames = map[ResultCode]string{
	ResultOK:         "SQLITE_OK",
	ResultError:      "SQLITE_ERROR",
	ResultInternal:   "SQLITE_INTERNAL",
	ResultPerm:       "SQLITE_PERM",
	ResultAbort:      "SQLITE_ABORT",
	ResultBusy:       "SQLITE_BUSY",
	ResultLocked:     "SQLITE_LOCKED",
	ResultNoMem:      "SQLITE_NOMEM",
	ResultReadOnly:   "SQLITE_READONLY",
	ResultInterrupt:  "SQLITE_INTERRUPT",
	ResultIOErr:      "SQLITE_IOERR",
	ResultCorrupt:    "SQLITE_CORRUPT",
	ResultNotFound:   "SQLITE_NOTFOUND",
	ResultFull:       "SQLITE_FULL",
	ResultCantOpen:   "SQLITE_CANTOPEN",
	ResultProtocol:   "SQLITE_PROTOCOL",
	ResultEmpty:      "SQLITE_EMPTY",
	ResultSchema:     "SQLITE_SCHEMA",
	ResultTooBig:     "SQLITE_TOOBIG",
	ResultConstraint: "SQLITE_CONSTRAINT",
	ResultMismatch:   "SQLITE_MISMATCH",
	ResultMisuse:     "SQLITE_MISUSE",
	ResultNoLFS:      "SQLITE_NOLFS",
	ResultAuth:       "SQLITE_AUTH",
	ResultFormat:     "SQLITE_FORMAT",
	ResultRange:      "SQLITE_RANGE",
	ResultNotADB:     "SQLITE_NOTADB",
	ResultNotice:     "SQLITE_NOTICE",
	ResultWarning:    "SQLITE_WARNING",
	ResultRow:        "SQLITE_ROW",
	ResultDone:       "SQLITE_DONE",

	ResultConstraintCommitHook: "SQLITE_CONSTRAINT_COMMITHOOK",
	ResultConstraintUnique:     "SQLITE_CONSTRAINT_UNIQUE",
	ResultConstraintNotNull:    "SQLITE_CONSTRAINT_NOTNULL",
	ResultConstraintPrimaryKey: "SQLITE_CONSTRAINT_PRIMARYKEY",
}

// Primary strips the extended bits.
func (rc ResultCode) Primary() ResultCode {
	return rc & 0xff
}

// IsSuccess reports whether rc is OK, ROW or DONE.
func (rc ResultCode) IsSuccess() bool {
	switch rc.Primary() {
	case ResultOK, ResultRow, ResultDone:
		return true
	}
	return false
}

// String returns the symbolic name, falling back to the primary code's name
// for extended codes without their own entry.
func (rc ResultCode) String() string {
	if name, ok := resultNames[rc]; ok {
		return name
	}
	if name, ok := resultNames[rc.Primary()]; ok {
		return fmt.Sprintf("%s(%d)", name, int32(rc))
	}
	return fmt.Sprintf("SQLITE_UNKNOWN(%d)", int32(rc))
}

// OpenFlags mirrors the engine's open_v2 flags.
type OpenFlags int32

const (
	OpenReadOnly     OpenFlags = sqlite3.SQLITE_OPEN_READONLY
	OpenReadWrite    OpenFlags = sqlite3.SQLITE_OPEN_READWRITE
	OpenCreate       OpenFlags = sqlite3.SQLITE_OPEN_CREATE
	OpenURI          OpenFlags = sqlite3.SQLITE_OPEN_URI
	OpenMemory       OpenFlags = sqlite3.SQLITE_OPEN_MEMORY
	OpenNoMutex      OpenFlags = sqlite3.SQLITE_OPEN_NOMUTEX
	OpenFullMutex    OpenFlags = sqlite3.SQLITE_OPEN_FULLMUTEX
	OpenSharedCache  OpenFlags = sqlite3.SQLITE_OPEN_SHAREDCACHE
	OpenPrivateCache OpenFlags = sqlite3.SQLITE_OPEN_PRIVATECACHE

	// DefaultOpenFlags opens read-write, creating the file when missing.
	DefaultOpenFlags = OpenReadWrite | OpenCreate | OpenURI
)

// ColumnType is the dynamic storage class of one result cell.
type ColumnType int32

const (
	ColumnInteger ColumnType = sqlite3.SQLITE_INTEGER
	ColumnFloat   ColumnType = sqlite3.SQLITE_FLOAT
	ColumnText    ColumnType = sqlite3.SQLITE_TEXT
	ColumnBlob    ColumnType = sqlite3.SQLITE_BLOB
	ColumnNull    ColumnType = sqlite3.SQLITE_NULL
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInteger:
		return "INTEGER"
	case ColumnFloat:
		return "FLOAT"
	case ColumnText:
		return "TEXT"
	case ColumnBlob:
		return "BLOB"
	case ColumnNull:
		return "NULL"
	}
	return fmt.Sprintf("ColumnType(%d)", int32(t))
}

// Row-change operation codes passed to the update hook.
const (
	OpDelete = sqlite3.SQLITE_DELETE
	OpInsert = sqlite3.SQLITE_INSERT
	OpUpdate = sqlite3.SQLITE_UPDATE
)
