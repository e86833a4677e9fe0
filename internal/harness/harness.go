package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/dispatch"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/testutil"
)

// Harness runs scenarios on a native engine.
type Harness struct {
	engine native.Engine
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithEngine replaces the default native.Lib engine.
func WithEngine(e native.Engine) Option {
	return func(h *Harness) {
		h.engine = e
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New creates a harness. Logs are discarded unless WithLogger is given.
func New(opts ...Option) *Harness {
	h := &Harness{
		engine: native.NewLib(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes scenario with a default harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(scenario)
}

// recorder appends delivered events to the result.
type recorder struct {
	mu     sync.Mutex
	result *Result
	veto   error
}

func (r *recorder) OnRowChange(ev hook.RowChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.addRowChange(ev)
}

func (r *recorder) OnCommit(ev hook.Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.addCommit(ev)
	return r.veto
}

func (r *recorder) OnRollback(ev hook.Rollback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.addRollback(ev)
}

// Run executes one scenario in a fresh in-memory database.
//
// The returned error reports harness problems (the database cannot be
// opened, setup fails). Step and assertion failures are collected in the
// Result instead.
func (h *Harness) Run(scenario *Scenario) (*Result, error) {
	caps, err := hook.ParseCapabilities(scenario.Options.Capabilities)
	if err != nil {
		return nil, err
	}

	b := bridge.New(h.engine,
		bridge.WithLogger(h.logger),
		bridge.WithCommitVeto(scenario.Options.CommitVeto),
		bridge.WithDispatchOptions(
			dispatch.WithTokenGenerator(testutil.NewSequenceTokens("tx")),
			dispatch.WithClock(testutil.NewResettableClock()),
		),
	)
	conn, err := b.Open(":memory:", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	for i, sql := range scenario.Setup {
		if err := conn.Exec(sql); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	result := NewResult()
	rec := &recorder{result: result}
	if scenario.Options.Veto != "" {
		rec.veto = errors.New(scenario.Options.Veto)
	}
	if err := conn.SetListener(rec, caps); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if msg := h.runStep(conn, step); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
		}
	}
	conn.ClearListener()

	actx := &AssertionContext{Conn: conn}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	result.Failures = b.Dispatcher().Failures()

	// Leave no transaction open so the connection closes cleanly.
	if conn.InTransaction() {
		_ = conn.Exec("ROLLBACK")
	}
	return result, nil
}

// runStep returns "" when the step behaved as expected.
func (h *Harness) runStep(conn *bridge.Conn, step Step) string {
	err := execStep(conn, step)
	switch {
	case step.ExpectError == "" && err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case step.ExpectError != "" && err == nil:
		return fmt.Sprintf("expected %s error, got success", step.ExpectError)
	case step.ExpectError != "" && string(sqlerr.KindOf(err)) != step.ExpectError:
		return fmt.Sprintf("expected %s error, got %v", step.ExpectError, err)
	}
	return ""
}

func execStep(conn *bridge.Conn, step Step) error {
	if len(step.Args) == 0 {
		return conn.Exec(step.SQL)
	}
	args := make([]bridge.Value, len(step.Args))
	for i, a := range step.Args {
		v, err := bridge.ValueOf(a)
		if err != nil {
			return fmt.Errorf("args[%d]: %w", i, err)
		}
		args[i] = v
	}
	_, _, err := conn.Query(step.SQL, args...)
	return err
}
