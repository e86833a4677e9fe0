package harness

import "github.com/roach88/sqlbridge/internal/hook"

// Trace event types.
const (
	EventRowChange = "row_change"
	EventCommit    = "commit"
	EventRollback  = "rollback"
)

// TraceEvent is one delivered hook event.
type TraceEvent struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	Tx       string `json:"tx"`
	Op       string `json:"op,omitempty"`
	Database string `json:"database,omitempty"`
	Table    string `json:"table,omitempty"`
	RowID    int64  `json:"row_id,omitempty"`
}

func (e TraceEvent) field(name string) (any, bool) {
	switch name {
	case "type":
		return e.Type, true
	case "seq":
		return e.Seq, true
	case "tx":
		return e.Tx, true
	case "op":
		return e.Op, true
	case "database":
		return e.Database, true
	case "table":
		return e.Table, true
	case "row_id":
		return e.RowID, true
	}
	return nil, false
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// Failures counts listener failures reported by the dispatcher.
	Failures int64 `json:"failures"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addRowChange(ev hook.RowChange) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:     EventRowChange,
		Seq:      ev.Seq,
		Tx:       ev.Tx,
		Op:       ev.Op.String(),
		Database: ev.Database,
		Table:    ev.Table,
		RowID:    ev.RowID,
	})
}

func (r *Result) addCommit(ev hook.Commit) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventCommit, Seq: ev.Seq, Tx: ev.Tx})
}

func (r *Result) addRollback(ev hook.Rollback) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventRollback, Seq: ev.Seq, Tx: ev.Tx})
}
