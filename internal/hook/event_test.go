package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowOnly struct{}

func (rowOnly) OnRowChange(RowChange) {}

func TestCapabilitiesOf(t *testing.T) {
	assert.Equal(t, CapRowChange, CapabilitiesOf(rowOnly{}))
	assert.Equal(t, Capability(0), CapabilitiesOf(Funcs{}))
	assert.Equal(t, CapCommit|CapRollback, CapabilitiesOf(Funcs{
		Commit:   func(Commit) error { return nil },
		Rollback: func(Rollback) {},
	}))
	assert.Equal(t, Capability(0), CapabilitiesOf(struct{}{}))
}

func TestFuncs_Capabilities(t *testing.T) {
	f := Funcs{Commit: func(Commit) error { return nil }}
	assert.Equal(t, CapCommit, f.Capabilities())

	// Nil callbacks are safe to call.
	f.OnRowChange(RowChange{})
	f.OnRollback(Rollback{})
}

func TestParseCapabilities(t *testing.T) {
	c, err := ParseCapabilities([]string{"row_change", "rollback"})
	require.NoError(t, err)
	assert.Equal(t, CapRowChange|CapRollback, c)
	assert.Equal(t, "row_change|rollback", c.String())

	_, err = ParseCapabilities([]string{"preupdate"})
	assert.Error(t, err)

	c, err = ParseCapabilities(nil)
	require.NoError(t, err)
	assert.Equal(t, "none", c.String())
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "insert", OpInsert.String())
	assert.Equal(t, "update", OpUpdate.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "op(99)", Op(99).String())
}
