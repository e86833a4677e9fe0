package bridge

import (
	"fmt"

	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Stmt is a prepared statement bound to one Conn.
type Stmt struct {
	conn    *Conn
	h       native.StmtHandle
	sql     string
	params  int
	columns int

	hasRow    bool
	done      bool
	failed    bool
	finalized bool
}

// SQL returns the text the statement was compiled from. Statements prepared
// from UTF-16 report "".
func (s *Stmt) SQL() string {
	if s == nil {
		return ""
	}
	return s.sql
}

// ParamCount is the number of bind parameters.
func (s *Stmt) ParamCount() int {
	if s == nil {
		return 0
	}
	return s.params
}

// ColumnCount is the number of result columns.
func (s *Stmt) ColumnCount() int {
	if s == nil {
		return 0
	}
	return s.columns
}

// HasRow reports whether a row is positioned.
func (s *Stmt) HasRow() bool {
	return s != nil && s.hasRow
}

func (s *Stmt) lock() func() {
	s.conn.mu.Lock()
	return s.conn.mu.Unlock
}

// check rejects never-prepared and finalized statements, and statements
// whose connection has gone away. Callers hold the connection mutex.
func (s *Stmt) check(f Failure) error {
	if s.h == 0 {
		return sqlerr.Misuse(f, "statement was never prepared")
	}
	if s.finalized {
		return sqlerr.Misuse(f, "statement is finalized")
	}
	if s.conn.closed {
		return sqlerr.Misuse(f, "connection is closed")
	}
	return nil
}

func (s *Stmt) guard(f Failure) (func(), error) {
	if s == nil || s.conn == nil {
		return func() {}, sqlerr.Misuse(f, "statement was never prepared")
	}
	unlock := s.lock()
	if err := s.check(f); err != nil {
		unlock()
		return func() {}, err
	}
	return unlock, nil
}

func (s *Stmt) bindError(rc native.ResultCode, index int) error {
	e := s.conn.engine()
	return sqlerr.NewIndexed(sqlerr.FailureBind, rc, e.ErrMsg(s.conn.thread, s.conn.db), index)
}

// Bind sets parameter index (1-based) to v. Text and blob payloads are
// copied by the engine before Bind returns. The engine stores a NaN real
// as NULL, so reading a NaN bind back yields a Null value.
func (s *Stmt) Bind(index int, v Value) error {
	unlock, err := s.guard(sqlerr.FailureBind)
	defer unlock()
	if err != nil {
		return err
	}
	return s.bindLocked(index, v)
}

func (s *Stmt) bindLocked(index int, v Value) error {
	if index < 1 || index > s.params {
		return sqlerr.BindRange(index, s.params)
	}
	e, t := s.conn.engine(), s.conn.thread
	var rc native.ResultCode
	switch v.Kind() {
	case KindNull:
		rc = e.BindNull(t, s.h, index)
	case KindInteger:
		rc = e.BindInt64(t, s.h, index, v.Int64())
	case KindReal:
		rc = e.BindDouble(t, s.h, index, v.Float64())
	case KindText:
		rc = e.BindText(t, s.h, index, v.Text())
	case KindBlob:
		rc = e.BindBlob(t, s.h, index, v.Bytes())
	default:
		return sqlerr.NewIndexed(sqlerr.FailureBind, native.ResultMisuse,
			fmt.Sprintf("unsupported value kind %s", v.Kind()), index)
	}
	if rc != native.ResultOK {
		return s.bindError(rc, index)
	}
	return nil
}

// BindAll binds args to parameters 1..len(args).
func (s *Stmt) BindAll(args ...Value) error {
	unlock, err := s.guard(sqlerr.FailureBind)
	defer unlock()
	if err != nil {
		return err
	}
	for i, v := range args {
		if err := s.bindLocked(i+1, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stmt) BindNull(index int) error              { return s.Bind(index, Null()) }
func (s *Stmt) BindInt64(index int, v int64) error    { return s.Bind(index, Integer(v)) }
func (s *Stmt) BindDouble(index int, v float64) error { return s.Bind(index, Real(v)) }
func (s *Stmt) BindText(index int, v string) error    { return s.Bind(index, Text(v)) }
func (s *Stmt) BindBlob(index int, v []byte) error    { return s.Bind(index, Blob(v)) }

// BindText16 binds UTF-16 text as-is, preserving unpaired surrogates.
func (s *Stmt) BindText16(index int, v []uint16) error {
	unlock, err := s.guard(sqlerr.FailureBind)
	defer unlock()
	if err != nil {
		return err
	}
	if index < 1 || index > s.params {
		return sqlerr.BindRange(index, s.params)
	}
	if rc := s.conn.engine().BindText16(s.conn.thread, s.h, index, v); rc != native.ResultOK {
		return s.bindError(rc, index)
	}
	return nil
}

// Step advances to the next row. It returns false once the statement is
// exhausted. Hooks for the step's changes fire before Step returns.
func (s *Stmt) Step() (bool, error) {
	unlock, err := s.guard(sqlerr.FailureStep)
	defer unlock()
	if err != nil {
		return false, err
	}
	return s.stepLocked()
}

func (s *Stmt) stepLocked() (bool, error) {
	e, t := s.conn.engine(), s.conn.thread
	switch rc := e.Step(t, s.h); rc {
	case native.ResultRow:
		s.hasRow, s.done, s.failed = true, false, false
		s.columns = e.ColumnCount(t, s.h)
		return true, nil
	case native.ResultDone:
		s.hasRow, s.done, s.failed = false, true, false
		return false, nil
	default:
		s.hasRow, s.failed = false, true
		return false, s.conn.lastError(sqlerr.FailureStep, rc)
	}
}

// drainLocked steps until done, discarding rows.
func (s *Stmt) drainLocked() error {
	for {
		ok, err := s.stepLocked()
		if err != nil || !ok {
			return err
		}
	}
}

// columnCheck validates the row and index before any extraction call.
func (s *Stmt) columnCheck(index int) error {
	if !s.hasRow {
		return sqlerr.NoRow(index)
	}
	if index < 0 || index >= s.columns {
		return sqlerr.ColumnRange(index, s.columns)
	}
	return nil
}

// noMem tells an allocation failure apart from a legitimately empty cell
// after an extractor returned a null pointer or zero bytes.
func (s *Stmt) noMem(index int) error {
	e, t := s.conn.engine(), s.conn.thread
	if e.ErrCode(t, s.conn.db).Primary() == native.ResultNoMem {
		return sqlerr.OutOfMemory(e.ErrMsg(t, s.conn.db), index)
	}
	return nil
}

// Column extracts cell index of the current row, tagged by its dynamic
// type.
func (s *Stmt) Column(index int) (Value, error) {
	unlock, err := s.guard(sqlerr.FailureColumnRange)
	defer unlock()
	if err != nil {
		return Value{}, err
	}
	if err := s.columnCheck(index); err != nil {
		return Value{}, err
	}
	return s.columnLocked(index)
}

func (s *Stmt) columnLocked(index int) (Value, error) {
	e, t := s.conn.engine(), s.conn.thread
	switch e.ColumnType(t, s.h, index) {
	case native.ColumnInteger:
		return Integer(e.ColumnInt64(t, s.h, index)), nil
	case native.ColumnFloat:
		return Real(e.ColumnDouble(t, s.h, index)), nil
	case native.ColumnText:
		b, ok := e.ColumnText(t, s.h, index)
		if !ok {
			if err := s.noMem(index); err != nil {
				return Value{}, err
			}
		}
		return Text(string(b)), nil
	case native.ColumnBlob:
		b, ok := e.ColumnBlob(t, s.h, index)
		if !ok {
			if err := s.noMem(index); err != nil {
				return Value{}, err
			}
			b = []byte{}
		}
		return Blob(b), nil
	}
	return Null(), nil
}

// Row extracts every column of the current row.
func (s *Stmt) Row() ([]Value, error) {
	unlock, err := s.guard(sqlerr.FailureColumnRange)
	defer unlock()
	if err != nil {
		return nil, err
	}
	if !s.hasRow {
		return nil, sqlerr.NoRow(sqlerr.NoIndex)
	}
	row := make([]Value, s.columns)
	for i := range row {
		if row[i], err = s.columnLocked(i); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// ColumnType returns the dynamic type of cell index in the current row.
func (s *Stmt) ColumnType(index int) (native.ColumnType, error) {
	unlock, err := s.guard(sqlerr.FailureColumnRange)
	defer unlock()
	if err != nil {
		return 0, err
	}
	if err := s.columnCheck(index); err != nil {
		return 0, err
	}
	return s.conn.engine().ColumnType(s.conn.thread, s.h, index), nil
}

// ColumnName needs no row, only a valid index.
func (s *Stmt) ColumnName(index int) (string, error) {
	unlock, err := s.guard(sqlerr.FailureColumnRange)
	defer unlock()
	if err != nil {
		return "", err
	}
	if index < 0 || index >= s.columns {
		return "", sqlerr.ColumnRange(index, s.columns)
	}
	name, ok := s.conn.engine().ColumnName(s.conn.thread, s.h, index)
	if !ok {
		if err := s.noMem(index); err != nil {
			return "", err
		}
	}
	return name, nil
}

func (s *Stmt) ColumnInt64(index int) (int64, error) {
	v, err := s.Column(index)
	return v.Int64(), err
}

func (s *Stmt) ColumnDouble(index int) (float64, error) {
	v, err := s.Column(index)
	return v.Float64(), err
}

func (s *Stmt) ColumnText(index int) (string, error) {
	v, err := s.Column(index)
	return v.Text(), err
}

func (s *Stmt) ColumnBlob(index int) ([]byte, error) {
	v, err := s.Column(index)
	return v.Bytes(), err
}

// ColumnText16 returns the cell as UTF-16 code units, converting as the
// engine does for non-text cells.
func (s *Stmt) ColumnText16(index int) ([]uint16, error) {
	unlock, err := s.guard(sqlerr.FailureColumnRange)
	defer unlock()
	if err != nil {
		return nil, err
	}
	if err := s.columnCheck(index); err != nil {
		return nil, err
	}
	e, t := s.conn.engine(), s.conn.thread
	if e.ColumnType(t, s.h, index) == native.ColumnNull {
		return nil, nil
	}
	u, ok := e.ColumnText16(t, s.h, index)
	if !ok {
		if err := s.noMem(index); err != nil {
			return nil, err
		}
		u = []uint16{}
	}
	return u, nil
}

// Reset rewinds the statement for another run. Bindings are kept.
func (s *Stmt) Reset() error {
	unlock, err := s.guard(sqlerr.FailureReset)
	defer unlock()
	if err != nil {
		return err
	}
	s.hasRow, s.done = false, false
	if rc := s.conn.engine().Reset(s.conn.thread, s.h); rc != native.ResultOK {
		return s.conn.lastError(sqlerr.FailureReset, rc)
	}
	return nil
}

// ClearBindings rewinds the statement and sets every parameter to NULL.
func (s *Stmt) ClearBindings() error {
	unlock, err := s.guard(sqlerr.FailureClearBindings)
	defer unlock()
	if err != nil {
		return err
	}
	e, t := s.conn.engine(), s.conn.thread
	s.hasRow, s.done = false, false
	// Reset reports the last step's error again; it does not block clearing.
	e.Reset(t, s.h)
	if rc := e.ClearBindings(t, s.h); rc != native.ResultOK {
		return s.conn.lastError(sqlerr.FailureClearBindings, rc)
	}
	return nil
}

// Finalize releases the statement. Any later use, including a second
// Finalize, fails with a misuse error.
func (s *Stmt) Finalize() error {
	unlock, err := s.guard(sqlerr.FailureFinalize)
	defer unlock()
	if err != nil {
		return err
	}
	return s.finalizeLocked()
}

func (s *Stmt) finalizeLocked() error {
	s.finalized = true
	s.hasRow = false
	delete(s.conn.stmts, s.h)
	rc := s.conn.engine().Finalize(s.conn.thread, s.h)
	// Finalize echoes the most recent step failure, already reported by Step.
	if rc != native.ResultOK && !s.failed {
		return s.conn.lastError(sqlerr.FailureFinalize, rc)
	}
	return nil
}
