package harness

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/sqlbridge/internal/bridge"
)

// validIdentifier matches plain SQL table names. Only these are
// interpolated into row_count queries.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion with the full trace.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", i+1, ev.Type, ev.Tx)
			if ev.Type == EventRowChange {
				fmt.Fprintf(&buf, " %s %s.%s rowid=%d", ev.Op, ev.Database, ev.Table, ev.RowID)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives state assertions access to the connection.
type AssertionContext struct {
	Conn *bridge.Conn
}

// EvaluateAssertions returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEventCount:
		return assertEventCount(trace, a)
	case AssertEventOrder:
		return assertEventOrder(trace, a)
	case AssertEventContains:
		return assertEventContains(trace, a)
	case AssertRowCount:
		return assertRowCount(actx, a)
	case AssertInTransaction:
		return assertInTransaction(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks that events appear in the listed relative order;
// other events may come between them.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Type == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("events in order: %v", a.Events),
			Actual:   fmt.Sprintf("matched %d of %d, missing %s", next, len(a.Events), a.Events[next]),
			Trace:    trace,
		}
	}
	return nil
}

func assertEventContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Type == a.Event && matchFields(ev, a.Match) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("%s event matching %s", a.Event, formatMatch(a.Match)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// matchFields is a subset match. YAML integers decode as int, trace
// integers are int64.
func matchFields(ev TraceEvent, want map[string]any) bool {
	for k, w := range want {
		got, ok := ev.field(k)
		if !ok {
			return false
		}
		if normalizeInt(got) != normalizeInt(w) {
			return false
		}
	}
	return true
}

func normalizeInt(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	}
	return v
}

func formatMatch(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func assertRowCount(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Conn == nil {
		return fmt.Errorf("row_count requires a connection")
	}
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q", a.Table)
	}
	_, rows, err := actx.Conn.Query(fmt.Sprintf("SELECT count(*) FROM %s", a.Table))
	if err != nil {
		return fmt.Errorf("row_count %s: %w", a.Table, err)
	}
	if got := rows[0][0].Int64(); got != int64(a.Count) {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d rows", got),
		}
	}
	return nil
}

func assertInTransaction(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Conn == nil {
		return fmt.Errorf("in_transaction requires a connection")
	}
	if got := actx.Conn.InTransaction(); got != *a.Expect {
		return &AssertionError{
			Type:     AssertInTransaction,
			Expected: fmt.Sprintf("in_transaction=%t", *a.Expect),
			Actual:   fmt.Sprintf("in_transaction=%t", got),
		}
	}
	return nil
}
