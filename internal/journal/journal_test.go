package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/dispatch"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/testutil"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"),
		WithNow(func() time.Time { return time.UnixMilli(1700000000000) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, j.Close())
	}

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	var mode string
	require.NoError(t, j.DB().Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
	var version int
	require.NoError(t, j.DB().Get(&version, "PRAGMA user_version"))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestJournal_CommitWritesChanges(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	j.OnRowChange(hook.RowChange{Seq: 1, Tx: "tx-1", Conn: 7, Op: hook.OpInsert, Database: "main", Table: "items", RowID: 1})
	j.OnRowChange(hook.RowChange{Seq: 2, Tx: "tx-1", Conn: 7, Op: hook.OpUpdate, Database: "main", Table: "items", RowID: 1})
	require.NoError(t, j.OnCommit(hook.Commit{Seq: 3, Tx: "tx-1", Conn: 7}))
	assert.Zero(t, j.Pending(7))

	txs, err := j.Transactions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, Transaction{Token: "tx-1", Conn: 7, Seq: 3, Outcome: OutcomeCommitted, Changes: 2, RecordedAt: 1700000000000}, txs[0])

	changes, err := j.Changes(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "insert", changes[0].Op)
	assert.Equal(t, "update", changes[1].Op)
	assert.Equal(t, "items", changes[1].Table)
}

func TestJournal_RollbackDiscards(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	j.OnRowChange(hook.RowChange{Seq: 1, Tx: "tx-1", Conn: 7, Op: hook.OpDelete, Database: "main", Table: "t", RowID: 4})
	j.OnRollback(hook.Rollback{Seq: 2, Tx: "tx-1", Conn: 7})

	txs, err := j.Transactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, OutcomeRolledBack, txs[0].Outcome)
	assert.Zero(t, txs[0].Changes)

	changes, err := j.Changes(ctx, "tx-1")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestJournal_RollbackAfterCommitDowngrades(t *testing.T) {
	j := openJournal(t)
	j.OnRowChange(hook.RowChange{Seq: 1, Tx: "tx-1", Conn: 1, Op: hook.OpInsert, Database: "main", Table: "t", RowID: 1})
	require.NoError(t, j.OnCommit(hook.Commit{Seq: 2, Tx: "tx-1", Conn: 1}))
	j.OnRollback(hook.Rollback{Seq: 3, Tx: "tx-1", Conn: 1})

	txs, err := j.Transactions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, OutcomeRolledBack, txs[0].Outcome)
	changes, err := j.Changes(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestJournal_BuffersPerConnection(t *testing.T) {
	j := openJournal(t)
	j.OnRowChange(hook.RowChange{Tx: "a", Conn: 1, Table: "t"})
	j.OnRowChange(hook.RowChange{Tx: "b", Conn: 2, Table: "t"})
	j.OnRowChange(hook.RowChange{Tx: "b", Conn: 2, Table: "t"})
	assert.Equal(t, 1, j.Pending(1))
	assert.Equal(t, 2, j.Pending(2))

	j.OnRollback(hook.Rollback{Tx: "a", Conn: 1})
	assert.Zero(t, j.Pending(1))
	assert.Equal(t, 2, j.Pending(2))
}

func TestJournal_LimitNewestFirst(t *testing.T) {
	j := openJournal(t)
	for i, tok := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, j.OnCommit(hook.Commit{Seq: int64(i + 1), Tx: tok, Conn: 1}))
	}
	txs, err := j.Transactions(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-3", txs[0].Token)
	assert.Equal(t, "tx-2", txs[1].Token)
}

func TestJournal_WriteFailureVetoes(t *testing.T) {
	j := openJournal(t)
	b := bridge.New(native.NewLib(),
		bridge.WithCommitVeto(true),
		bridge.WithDispatchOptions(dispatch.WithTokenGenerator(testutil.NewSequenceTokens("tx"))))
	c, err := b.Open(":memory:", 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Exec("CREATE TABLE t(x)"))
	require.NoError(t, c.SetListener(j, 0))
	require.NoError(t, c.Exec("INSERT INTO t VALUES (1)"))

	require.NoError(t, j.Close())
	err = c.Exec("INSERT INTO t VALUES (2)")
	require.Error(t, err)
	assert.True(t, sqlerr.IsConstraint(err))

	c.ClearListener()
	_, rows, err := c.Query("SELECT count(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows[0][0].Int64(), "the failed journal write vetoed the second insert")
}

func TestJournal_EndToEnd(t *testing.T) {
	j := openJournal(t)
	b := bridge.New(native.NewLib(),
		bridge.WithDispatchOptions(dispatch.WithTokenGenerator(testutil.NewSequenceTokens("tx"))))
	c, err := b.Open(":memory:", 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Exec("CREATE TABLE t(x)"))
	require.NoError(t, c.SetListener(j, 0))
	require.NoError(t, c.Exec("BEGIN; INSERT INTO t VALUES (1); INSERT INTO t VALUES (2); COMMIT"))
	require.NoError(t, c.Exec("BEGIN; DELETE FROM t WHERE x = 1; ROLLBACK"))

	txs, err := j.Transactions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-2", txs[0].Token)
	assert.Equal(t, OutcomeRolledBack, txs[0].Outcome)
	assert.Equal(t, "tx-1", txs[1].Token)
	assert.Equal(t, 2, txs[1].Changes)
}
