// Package journal records finished transactions and their row changes in a
// separate SQLite file.
//
// A Journal is a connection listener. Row changes are buffered per
// connection and written in one journal transaction when the connection
// commits. If that write fails OnCommit returns the error, which vetoes the
// commit when veto is enabled. A rollback discards the buffer and records
// the transaction as rolled back.
//
// The journal file is written through database/sql with the mattn driver,
// independently of the connection being observed.
package journal

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - transactions and changes
const currentSchemaVersion = 1

// Outcome values stored per transaction.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Journal persists hook events.
type Journal struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[native.ConnHandle][]hook.RowChange
}

// Option configures a Journal.
type Option func(*Journal)

func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// WithNow overrides the recorded_at clock.
func WithNow(fn func() time.Time) Option {
	return func(j *Journal) {
		j.now = fn
	}
}

// Open creates or opens the journal at path.
//
// The file is configured with WAL, NORMAL synchronous, a 5 second busy
// timeout and foreign keys. Open is idempotent.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// One writer; the journal is only ever written from commit hooks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	j := &Journal{
		db:      db,
		logger:  slog.Default(),
		now:     time.Now,
		pending: make(map[native.ConnHandle][]hook.RowChange),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the journal file. Buffered, uncommitted changes are lost.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// DB exposes the journal handle for ad hoc queries.
func (j *Journal) DB() *sqlx.DB {
	return j.db
}

func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (j *Journal) OnRowChange(ev hook.RowChange) {
	j.mu.Lock()
	j.pending[ev.Conn] = append(j.pending[ev.Conn], ev)
	j.mu.Unlock()
}

// OnCommit writes the transaction and its buffered changes. The buffer is
// dropped either way; a failed write is reported to the dispatcher.
func (j *Journal) OnCommit(ev hook.Commit) error {
	changes := j.take(ev.Conn)
	if err := j.record(ev.Tx, ev.Conn, ev.Seq, OutcomeCommitted, changes); err != nil {
		return fmt.Errorf("journal commit %s: %w", ev.Tx, err)
	}
	return nil
}

// OnRollback records the rollback. A transaction already journaled as
// committed (the engine rolled back after the commit hook) is downgraded.
func (j *Journal) OnRollback(ev hook.Rollback) {
	discarded := j.take(ev.Conn)
	if err := j.record(ev.Tx, ev.Conn, ev.Seq, OutcomeRolledBack, nil); err != nil {
		j.logger.Warn("journal rollback failed", "tx", ev.Tx, "error", err)
		return
	}
	if len(discarded) > 0 {
		j.logger.Debug("journal discarded changes", "tx", ev.Tx, "changes", len(discarded))
	}
}

func (j *Journal) take(db native.ConnHandle) []hook.RowChange {
	j.mu.Lock()
	defer j.mu.Unlock()
	changes := j.pending[db]
	delete(j.pending, db)
	return changes
}

// Pending counts buffered changes for db.
func (j *Journal) Pending(db native.ConnHandle) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending[db])
}

const upsertTransactionSQL = `
INSERT INTO transactions (token, conn, seq, outcome, changes, recorded_at)
VALUES (:token, :conn, :seq, :outcome, :changes, :recorded_at)
ON CONFLICT(token) DO UPDATE SET
    seq = excluded.seq,
    outcome = excluded.outcome,
    changes = excluded.changes,
    recorded_at = excluded.recorded_at`

const insertChangeSQL = `
INSERT INTO changes (tx, seq, op, db_name, tbl, row_id)
VALUES (:tx, :seq, :op, :db_name, :tbl, :row_id)`

func (j *Journal) record(token string, conn native.ConnHandle, seq int64, outcome string, changes []hook.RowChange) error {
	tx, err := j.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := Transaction{
		Token:      token,
		Conn:       int64(conn),
		Seq:        seq,
		Outcome:    outcome,
		Changes:    len(changes),
		RecordedAt: j.now().UnixMilli(),
	}
	if _, err := tx.NamedExec(upsertTransactionSQL, row); err != nil {
		return fmt.Errorf("write transaction: %w", err)
	}
	if outcome == OutcomeRolledBack {
		if _, err := tx.Exec("DELETE FROM changes WHERE tx = ?", token); err != nil {
			return fmt.Errorf("drop changes: %w", err)
		}
	}
	for _, ev := range changes {
		c := Change{
			Tx:       token,
			Seq:      ev.Seq,
			Op:       ev.Op.String(),
			Database: ev.Database,
			Table:    ev.Table,
			RowID:    ev.RowID,
		}
		if _, err := tx.NamedExec(insertChangeSQL, c); err != nil {
			return fmt.Errorf("write change: %w", err)
		}
	}
	return tx.Commit()
}

// Transaction is one journaled transaction.
type Transaction struct {
	Token      string `db:"token" json:"token"`
	Conn       int64  `db:"conn" json:"conn"`
	Seq        int64  `db:"seq" json:"seq"`
	Outcome    string `db:"outcome" json:"outcome"`
	Changes    int    `db:"changes" json:"changes"`
	RecordedAt int64  `db:"recorded_at" json:"recorded_at"`
}

// Change is one journaled row change.
type Change struct {
	ID       int64  `db:"id" json:"-"`
	Tx       string `db:"tx" json:"tx"`
	Seq      int64  `db:"seq" json:"seq"`
	Op       string `db:"op" json:"op"`
	Database string `db:"db_name" json:"database"`
	Table    string `db:"tbl" json:"table"`
	RowID    int64  `db:"row_id" json:"row_id"`
}

// Transactions returns the most recent transactions, newest first. A limit
// of zero or less returns all of them.
func (j *Journal) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	var out []Transaction
	err := j.db.SelectContext(ctx, &out, `
		SELECT token, conn, seq, outcome, changes, recorded_at
		FROM transactions
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return out, nil
}

// Changes returns the row changes of one transaction in event order.
func (j *Journal) Changes(ctx context.Context, token string) ([]Change, error) {
	var out []Change
	err := j.db.SelectContext(ctx, &out, `
		SELECT id, tx, seq, op, db_name, tbl, row_id
		FROM changes
		WHERE tx = ?
		ORDER BY seq`, token)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	return out, nil
}
