// Package hook defines the change notifications delivered to listeners and
// the capability interfaces a listener implements to receive them.
package hook

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlbridge/internal/native"
)

// Op is the kind of row change.
type Op int

const (
	OpInsert Op = native.OpInsert
	OpUpdate Op = native.OpUpdate
	OpDelete Op = native.OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// RowChange is delivered once per changed row, before the commit of the
// transaction that contains it.
type RowChange struct {
	Seq      int64
	Tx       string
	Conn     native.ConnHandle
	Op       Op
	Database string
	Table    string
	RowID    int64
}

// Commit is delivered when a transaction is about to commit.
type Commit struct {
	Seq  int64
	Tx   string
	Conn native.ConnHandle
}

// Rollback is delivered after a transaction rolled back, including one
// rolled back because its commit was vetoed.
type Rollback struct {
	Seq  int64
	Tx   string
	Conn native.ConnHandle
}

// Listener is any value registered for a connection. It receives the events
// for each capability interface it implements.
type Listener any

type RowChangeListener interface {
	OnRowChange(RowChange)
}

// CommitListener returns a non-nil error to signal a veto. The signal only
// aborts the commit when the dispatcher has veto enabled.
type CommitListener interface {
	OnCommit(Commit) error
}

type RollbackListener interface {
	OnRollback(Rollback)
}

// Capability is a set of notification kinds.
type Capability uint8

const (
	CapRowChange Capability = 1 << iota
	CapCommit
	CapRollback

	CapAll = CapRowChange | CapCommit | CapRollback
)

// Has reports whether c includes every bit of other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(CapRowChange) {
		parts = append(parts, "row_change")
	}
	if c.Has(CapCommit) {
		parts = append(parts, "commit")
	}
	if c.Has(CapRollback) {
		parts = append(parts, "rollback")
	}
	return strings.Join(parts, "|")
}

// CapabilityReporter lets a listener narrow its capabilities below the
// interfaces it implements.
type CapabilityReporter interface {
	Capabilities() Capability
}

// CapabilitiesOf reports which listener interfaces l implements, or what l
// reports when it is a CapabilityReporter.
func CapabilitiesOf(l Listener) Capability {
	if r, ok := l.(CapabilityReporter); ok {
		return r.Capabilities() & implemented(l)
	}
	return implemented(l)
}

func implemented(l Listener) Capability {
	var c Capability
	if _, ok := l.(RowChangeListener); ok {
		c |= CapRowChange
	}
	if _, ok := l.(CommitListener); ok {
		c |= CapCommit
	}
	if _, ok := l.(RollbackListener); ok {
		c |= CapRollback
	}
	return c
}

// ParseCapability accepts the names used in configuration files.
func ParseCapability(name string) (Capability, error) {
	switch name {
	case "row_change":
		return CapRowChange, nil
	case "commit":
		return CapCommit, nil
	case "rollback":
		return CapRollback, nil
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// ParseCapabilities combines names; an empty list yields zero, which
// registration treats as "everything the listener implements".
func ParseCapabilities(names []string) (Capability, error) {
	var c Capability
	for _, n := range names {
		one, err := ParseCapability(n)
		if err != nil {
			return 0, err
		}
		c |= one
	}
	return c, nil
}

// Funcs adapts plain functions to the listener interfaces. Only non-nil
// fields count as capabilities.
type Funcs struct {
	RowChange func(RowChange)
	Commit    func(Commit) error
	Rollback  func(Rollback)
}

func (f Funcs) OnRowChange(ev RowChange) {
	if f.RowChange != nil {
		f.RowChange(ev)
	}
}

func (f Funcs) OnCommit(ev Commit) error {
	if f.Commit != nil {
		return f.Commit(ev)
	}
	return nil
}

func (f Funcs) OnRollback(ev Rollback) {
	if f.Rollback != nil {
		f.Rollback(ev)
	}
}

// Capabilities returns the set of non-nil callbacks.
func (f Funcs) Capabilities() Capability {
	var c Capability
	if f.RowChange != nil {
		c |= CapRowChange
	}
	if f.Commit != nil {
		c |= CapCommit
	}
	if f.Rollback != nil {
		c |= CapRollback
	}
	return c
}
