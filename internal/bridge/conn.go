package bridge

import (
	"fmt"
	"sync"
	"unicode/utf16"

	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Conn is one open native connection.
type Conn struct {
	bridge *Bridge
	thread native.Thread
	db     native.ConnHandle
	path   string

	mu     sync.Mutex
	stmts  map[native.StmtHandle]*Stmt
	closed bool
}

// Handle returns the native connection handle, the registry key for this
// connection.
func (c *Conn) Handle() native.ConnHandle {
	return c.db
}

// Path returns the path the connection was opened with.
func (c *Conn) Path() string {
	return c.path
}

func (c *Conn) engine() native.Engine {
	return c.bridge.engine
}

// lastError translates the connection's current native error.
func (c *Conn) lastError(f Failure, rc native.ResultCode) *sqlerr.Error {
	return sqlerr.New(f, rc, c.engine().ErrMsg(c.thread, c.db))
}

// Failure is re-exported so callers can match without importing sqlerr.
type Failure = sqlerr.Failure

func (c *Conn) checkOpen(f Failure) error {
	if c == nil || c.bridge == nil {
		return sqlerr.Misuse(f, "connection was never opened")
	}
	if c.closed {
		return sqlerr.Misuse(f, "connection is closed")
	}
	return nil
}

// Prepare compiles the first statement of sql. The text is passed with an
// explicit byte length, so embedded NULs are preserved.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, _, err := c.prepareLocked([]byte(sql))
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, sqlerr.Misuse(sqlerr.FailurePrepare, "sql contains no statement")
	}
	st.sql = sql
	return st, nil
}

// Prepare16 compiles UTF-16 text, such as a host string with surrogate
// pairs, without re-encoding it.
func (c *Conn) Prepare16(sql []uint16) (*Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(sqlerr.FailurePrepare); err != nil {
		return nil, err
	}
	h, _, rc := c.engine().Prepare16(c.thread, c.db, sql)
	if rc != native.ResultOK {
		return nil, c.lastError(sqlerr.FailurePrepare, rc)
	}
	if h == 0 {
		return nil, sqlerr.Misuse(sqlerr.FailurePrepare, "sql contains no statement")
	}
	return c.track(h), nil
}

// PrepareNext compiles the first statement of sql and returns the text
// after it. A nil Stmt with a nil error means sql held only whitespace or
// comments.
func (c *Conn) PrepareNext(sql string) (*Stmt, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, tail, err := c.prepareLocked([]byte(sql))
	if err != nil {
		return nil, "", err
	}
	return st, sql[tail:], nil
}

// PrepareNext16 is PrepareNext for UTF-16 text.
func (c *Conn) PrepareNext16(sql []uint16) (*Stmt, []uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(sqlerr.FailurePrepare); err != nil {
		return nil, nil, err
	}
	h, tail, rc := c.engine().Prepare16(c.thread, c.db, sql)
	if rc != native.ResultOK {
		return nil, nil, c.lastError(sqlerr.FailurePrepare, rc)
	}
	if h == 0 {
		return nil, sql[tail:], nil
	}
	st := c.track(h)
	st.sql = string(utf16.Decode(sql[:tail]))
	return st, sql[tail:], nil
}

// prepareLocked returns a nil Stmt when sql holds only whitespace or
// comments. The int is the byte offset of the unconsumed tail.
func (c *Conn) prepareLocked(sql []byte) (*Stmt, int, error) {
	if err := c.checkOpen(sqlerr.FailurePrepare); err != nil {
		return nil, 0, err
	}
	h, tail, rc := c.engine().Prepare(c.thread, c.db, sql)
	if rc != native.ResultOK {
		return nil, 0, c.lastError(sqlerr.FailurePrepare, rc)
	}
	if h == 0 {
		return nil, tail, nil
	}
	st := c.track(h)
	st.sql = string(sql[:tail])
	return st, tail, nil
}

func (c *Conn) track(h native.StmtHandle) *Stmt {
	e := c.engine()
	st := &Stmt{
		conn:    c,
		h:       h,
		params:  e.BindParameterCount(c.thread, h),
		columns: e.ColumnCount(c.thread, h),
	}
	c.stmts[h] = st
	return st
}

// Exec runs every statement in script, discarding rows. It stops at the
// first failure; statements already run stay applied.
func (c *Conn) Exec(script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rest := []byte(script)
	for len(rest) > 0 {
		st, tail, err := c.prepareLocked(rest)
		if err != nil {
			return err
		}
		rest = rest[tail:]
		if st == nil {
			if tail == 0 {
				break
			}
			continue
		}
		err = st.drainLocked()
		if ferr := st.finalizeLocked(); err == nil {
			err = ferr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Query prepares sql, binds args and collects every row.
func (c *Conn) Query(sql string, args ...Value) ([]string, [][]Value, error) {
	st, err := c.Prepare(sql)
	if err != nil {
		return nil, nil, err
	}
	defer st.Finalize()

	if err := st.BindAll(args...); err != nil {
		return nil, nil, err
	}
	cols := make([]string, st.ColumnCount())
	for i := range cols {
		if cols[i], err = st.ColumnName(i); err != nil {
			return nil, nil, err
		}
	}
	var rows [][]Value
	for {
		ok, err := st.Step()
		if err != nil {
			return cols, rows, err
		}
		if !ok {
			break
		}
		row, err := st.Row()
		if err != nil {
			return cols, rows, err
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

// InTransaction reports whether an explicit transaction is open.
func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkOpen(sqlerr.FailureStep) != nil {
		return false
	}
	return !c.engine().Autocommit(c.thread, c.db)
}

// Changes returns rows modified by the most recent statement.
func (c *Conn) Changes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkOpen(sqlerr.FailureStep) != nil {
		return 0
	}
	return c.engine().Changes(c.thread, c.db)
}

// LastInsertRowID returns the rowid of the most recent insert.
func (c *Conn) LastInsertRowID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkOpen(sqlerr.FailureStep) != nil {
		return 0
	}
	return c.engine().LastInsertRowID(c.thread, c.db)
}

// LoadExtension initializes a registered extension on this connection.
func (c *Conn) LoadExtension(name, entry string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(sqlerr.FailureExtension); err != nil {
		return err
	}
	if !c.bridge.extensions {
		return sqlerr.New(sqlerr.FailureExtension, native.ResultError, "not authorized")
	}
	if rc, msg := c.engine().LoadExtension(c.thread, c.db, name, entry); rc != native.ResultOK {
		return sqlerr.New(sqlerr.FailureExtension, rc, msg)
	}
	return nil
}

// SetListener binds l to this connection. caps of zero selects every
// capability l implements.
func (c *Conn) SetListener(l hook.Listener, caps hook.Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(sqlerr.FailureConfigure); err != nil {
		return err
	}
	if err := c.bridge.registry.Register(c.db, l, caps); err != nil {
		return fmt.Errorf("set listener: %w", err)
	}
	return nil
}

// ClearListener removes the binding. Safe to call repeatedly. On a closed
// connection it does nothing, since the native handle may already belong
// to another connection.
func (c *Conn) ClearListener() {
	if c == nil || c.bridge == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.bridge.registry.Unregister(c.db)
}

// OpenStatements counts statements not yet finalized.
func (c *Conn) OpenStatements() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stmts)
}

// Close releases the connection. It fails with SQLITE_BUSY, without
// touching native state, while statements are unfinalized. Closing a closed
// connection does nothing.
func (c *Conn) Close() error {
	if c == nil || c.bridge == nil {
		return sqlerr.Misuse(sqlerr.FailureClose, "connection was never opened")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if n := len(c.stmts); n > 0 {
		return sqlerr.New(sqlerr.FailureClose, native.ResultBusy,
			fmt.Sprintf("unable to close due to unfinalized statements (%d open)", n))
	}

	e := c.engine()
	c.bridge.registry.Unregister(c.db)
	e.RemoveHooks(c.thread, c.db)
	if rc := e.Close(c.thread, c.db); rc != native.ResultOK {
		err := c.lastError(sqlerr.FailureClose, rc)
		e.InstallHooks(c.thread, c.db, c.bridge.dispatch)
		return err
	}
	c.closed = true
	c.bridge.dispatch.Forget(c.db)
	c.bridge.threads.Forget(c.thread.ID())
	c.thread.Close()
	c.bridge.logger.Debug("connection closed", "path", c.path, "conn", uintptr(c.db))
	return nil
}
