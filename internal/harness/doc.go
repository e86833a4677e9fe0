// Package harness runs hook scenarios against a real connection and records
// the events delivered to the listener.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: veto_rolls_back
//	description: "A vetoed commit rolls back and reports a constraint error"
//	options:
//	  commit_veto: true
//	  veto: "rejected by listener"
//	  capabilities: [row_change, commit, rollback]
//	setup:
//	  - CREATE TABLE t(x)
//	steps:
//	  - sql: INSERT INTO t VALUES (?)
//	    args: [1]
//	    expect_error: CONSTRAINT
//	assertions:
//	  - type: event_order
//	    events: [row_change, commit, rollback]
//	  - type: row_count
//	    table: t
//	    count: 0
//
// Setup statements run before the listener is registered, so they produce
// no events. Steps with args are prepared, bound and stepped to completion;
// steps without args may hold several statements.
//
// # Assertion Types
//
//   - event_count: the event type occurs exactly count times
//   - event_order: the listed event types occur in this relative order
//   - event_contains: some event of the type matches every field in match
//   - row_count: a table holds exactly count rows after the steps
//   - in_transaction: whether a transaction is still open after the steps
//
// # Deterministic Traces
//
// Each run uses a fresh in-memory database, transaction tokens "tx-1",
// "tx-2", ... and a sequence clock starting at 1. Connection handles are
// left out of the trace. The trace is serialized as canonical JSON (sorted
// keys, NFC strings) so it can be compared byte for byte with a golden file.
package harness
