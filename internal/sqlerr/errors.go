// Package sqlerr translates native engine result codes into typed errors.
//
// Every Error carries the native code and message exactly as the engine
// reported them. Two axes describe a failure:
//   - Failure: which boundary operation or precondition failed (open,
//     prepare, bind, column range, ...)
//   - Kind: the classification of the native code (misuse, constraint,
//     busy/locked, ...)
package sqlerr

import (
	"errors"
	"fmt"

	"github.com/roach88/sqlbridge/internal/native"
)

// Failure names the boundary operation that failed.
type Failure string

const (
	FailureOpen          Failure = "OPEN"
	FailurePrepare       Failure = "PREPARE"
	FailureBind          Failure = "BIND"
	FailureStep          Failure = "STEP"
	FailureColumnRange   Failure = "COLUMN_RANGE"
	FailureNoRow         Failure = "NO_ROW"
	FailureOutOfMemory   Failure = "OUT_OF_MEMORY"
	FailureClose         Failure = "CLOSE"
	FailureHookDispatch  Failure = "HOOK_DISPATCH"
	FailureReset         Failure = "RESET"
	FailureClearBindings Failure = "CLEAR_BINDINGS"
	FailureFinalize      Failure = "FINALIZE"
	FailureExtension     Failure = "LOAD_EXTENSION"
	FailureConfigure     Failure = "CONFIGURE"
)

// Kind classifies a native result code.
type Kind string

const (
	KindMisuse       Kind = "MISUSE"
	KindRange        Kind = "RANGE"
	KindConstraint   Kind = "CONSTRAINT"
	KindBusyOrLocked Kind = "BUSY_OR_LOCKED"
	KindIO           Kind = "IO"
	KindCorrupt      Kind = "CORRUPT"
	KindOutOfMemory  Kind = "OUT_OF_MEMORY"
	KindGeneric      Kind = "GENERIC"
)

// NoIndex marks errors not tied to a parameter or column.
const NoIndex = -1

// Error is a native engine failure surfaced at the binding boundary.
type Error struct {
	// Failure identifies the operation that failed.
	Failure Failure

	// Kind is derived from Code.
	Kind Kind

	// Code is the native result code, extended when extended codes are on.
	Code native.ResultCode

	// Message is the engine's message, unmodified.
	Message string

	// Index is the bind parameter (1-based) or column (0-based) involved,
	// or NoIndex.
	Index int
}

func (e *Error) Error() string {
	if e.Index != NoIndex {
		return fmt.Sprintf("%s: %s (index=%d, code=%d %s)", e.Failure, e.Message, e.Index, int32(e.Code), e.Code)
	}
	return fmt.Sprintf("%s: %s (code=%d %s)", e.Failure, e.Message, int32(e.Code), e.Code)
}

// Classify maps a native code to its Kind using the primary code.
func Classify(code native.ResultCode) Kind {
	switch code.Primary() {
	case native.ResultMisuse:
		return KindMisuse
	case native.ResultRange:
		return KindRange
	case native.ResultConstraint:
		return KindConstraint
	case native.ResultBusy, native.ResultLocked:
		return KindBusyOrLocked
	case native.ResultIOErr, native.ResultCantOpen, native.ResultFull:
		return KindIO
	case native.ResultCorrupt, native.ResultNotADB:
		return KindCorrupt
	case native.ResultNoMem:
		return KindOutOfMemory
	}
	return KindGeneric
}

// New builds an Error for failure f with the native code and message.
func New(f Failure, code native.ResultCode, msg string) *Error {
	return &Error{
		Failure: f,
		Kind:    Classify(code),
		Code:    code,
		Message: msg,
		Index:   NoIndex,
	}
}

// NewIndexed is New for bind and column failures.
func NewIndexed(f Failure, code native.ResultCode, msg string, index int) *Error {
	e := New(f, code, msg)
	e.Index = index
	return e
}

// NoRow reports column access without a positioned row.
func NoRow(index int) *Error {
	return NewIndexed(FailureNoRow, native.ResultMisuse, "no row available", index)
}

// ColumnRange reports a column index outside [0, count).
func ColumnRange(index, count int) *Error {
	return NewIndexed(FailureColumnRange, native.ResultRange,
		fmt.Sprintf("column index %d out of range [0, %d)", index, count), index)
}

// BindRange reports a parameter index outside [1, count].
func BindRange(index, count int) *Error {
	return NewIndexed(FailureBind, native.ResultRange,
		fmt.Sprintf("bind index %d out of range [1, %d]", index, count), index)
}

// OutOfMemory reports the engine's allocation failure during extraction.
func OutOfMemory(msg string, index int) *Error {
	return NewIndexed(FailureOutOfMemory, native.ResultNoMem, msg, index)
}

// Misuse reports a call against a finalized statement or closed connection.
func Misuse(f Failure, msg string) *Error {
	return New(f, native.ResultMisuse, msg)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns err's Kind, or "" when err carries no native failure.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsFailure reports whether err is a native failure of operation f.
func IsFailure(err error, f Failure) bool {
	e, ok := As(err)
	return ok && e.Failure == f
}

// IsNoRow reports column access without a row.
func IsNoRow(err error) bool {
	return IsFailure(err, FailureNoRow)
}

// IsColumnRange reports a column index outside the result.
func IsColumnRange(err error) bool {
	return IsFailure(err, FailureColumnRange)
}

// IsOutOfMemory reports an out-of-memory failure of any operation.
func IsOutOfMemory(err error) bool {
	return KindOf(err) == KindOutOfMemory
}

// IsConstraint reports constraint failures, including a vetoed commit.
func IsConstraint(err error) bool {
	return KindOf(err) == KindConstraint
}

// IsBusy reports SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	return KindOf(err) == KindBusyOrLocked
}

// IsMisuse reports API misuse detected by the engine or the binding layer.
func IsMisuse(err error) bool {
	return KindOf(err) == KindMisuse
}

// IsRange reports an out-of-range index.
func IsRange(err error) bool {
	return KindOf(err) == KindRange
}
