package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/config"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/journal"
	"github.com/roach88/sqlbridge/internal/updates"
)

// tee forwards every event to each listener in order. Commit errors are
// joined, so any listener can veto.
type tee []hook.Listener

func (t tee) OnRowChange(ev hook.RowChange) {
	for _, l := range t {
		if rl, ok := l.(hook.RowChangeListener); ok {
			rl.OnRowChange(ev)
		}
	}
}

func (t tee) OnCommit(ev hook.Commit) error {
	var errs []error
	for _, l := range t {
		if cl, ok := l.(hook.CommitListener); ok {
			if err := cl.OnCommit(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (t tee) OnRollback(ev hook.Rollback) {
	for _, l := range t {
		if rl, ok := l.(hook.RollbackListener); ok {
			rl.OnRollback(ev)
		}
	}
}

// syncWriter serializes writes from the hook thread and the tracker.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// watcher prints hook events as they are delivered.
type watcher struct {
	w io.Writer
}

func (w watcher) OnRowChange(ev hook.RowChange) {
	fmt.Fprintf(w.w, "-- %s %s %s.%s rowid=%d\n", ev.Tx, ev.Op, ev.Database, ev.Table, ev.RowID)
}

func (w watcher) OnCommit(ev hook.Commit) error {
	fmt.Fprintf(w.w, "-- %s commit\n", ev.Tx)
	return nil
}

func (w watcher) OnRollback(ev hook.Rollback) {
	fmt.Fprintf(w.w, "-- %s rollback\n", ev.Tx)
}

// sessionOptions selects the listeners attached to a session.
type sessionOptions struct {
	Watch   bool
	Journal string
}

// session is an open connection with its listeners. With Watch set a
// tracker prints the tables touched by each statement.
type session struct {
	conn    *bridge.Conn
	journal *journal.Journal
	tracker *updates.Tracker
	cancel  context.CancelFunc
	done    chan struct{}
}

func openSession(ctx context.Context, opts *RootOptions, cfg *config.Config, db string, so sessionOptions, events io.Writer, logger *slog.Logger) (*session, error) {
	conn, err := opts.openConn(cfg, db, logger)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn}
	events = &syncWriter{w: events}

	var listeners tee
	if so.Journal == "" {
		so.Journal = cfg.Journal
	}
	if so.Journal != "" {
		s.journal, err = journal.Open(so.Journal, journal.WithLogger(logger))
		if err != nil {
			_ = conn.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		listeners = append(listeners, s.journal)
	}
	if so.Watch {
		listeners = append(listeners, watcher{w: events})
		s.startTracker(ctx, events, logger)
		listeners = append(listeners, s.tracker)
	}
	if len(listeners) > 0 {
		caps, err := cfg.ListenerCapabilities()
		if err != nil {
			_ = s.close()
			return nil, WrapExitError(ExitCommandError, "invalid config", err)
		}
		if err := conn.SetListener(listeners, caps); err != nil {
			_ = s.close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) startTracker(ctx context.Context, events io.Writer, logger *slog.Logger) {
	s.tracker = updates.New(updates.WithLogger(logger))
	batches, _ := s.tracker.Subscribe(16)
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		_ = s.tracker.Run(ctx)
		s.tracker.CloseSubscribers()
	}()
	go func() {
		defer close(s.done)
		for batch := range batches {
			fmt.Fprintf(events, "-- tables changed: %s\n", strings.Join(batch, ", "))
		}
	}()
}

// close releases the listeners and the connection. Queued table updates
// are printed before it returns.
func (s *session) close() error {
	s.conn.ClearListener()
	if s.tracker != nil {
		s.tracker.Close()
		<-s.done
		s.cancel()
	}
	var errs []error
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// afterStatement publishes the tables the statement touched.
func (s *session) afterStatement() {
	if s.tracker != nil {
		s.tracker.FireTableUpdates()
	}
}

// run executes script statement by statement, collecting the rows of
// every statement that returns columns.
func (s *session) run(script string) ([]QueryResult, error) {
	var results []QueryResult
	rest := script
	for rest != "" {
		st, next, err := s.conn.PrepareNext(rest)
		if err != nil {
			return results, err
		}
		if st == nil {
			break
		}
		rest = next
		r, err := s.collect(st)
		if err != nil {
			return results, err
		}
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// run16 is run for UTF-16 scripts.
func (s *session) run16(script []uint16) ([]QueryResult, error) {
	var results []QueryResult
	rest := script
	for len(rest) > 0 {
		st, next, err := s.conn.PrepareNext16(rest)
		if err != nil {
			return results, err
		}
		if st == nil {
			break
		}
		rest = next
		r, err := s.collect(st)
		if err != nil {
			return results, err
		}
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// collect steps st to completion and finalizes it. Statements without
// result columns return nil.
func (s *session) collect(st *bridge.Stmt) (*QueryResult, error) {
	defer s.afterStatement()

	var rows [][]bridge.Value
	for {
		ok, err := st.Step()
		if err != nil {
			_ = st.Finalize()
			return nil, err
		}
		if !ok {
			break
		}
		row, err := st.Row()
		if err != nil {
			_ = st.Finalize()
			return nil, err
		}
		rows = append(rows, row)
	}

	n := st.ColumnCount()
	if n == 0 {
		return nil, st.Finalize()
	}
	cols := make([]string, n)
	for i := range cols {
		name, err := st.ColumnName(i)
		if err != nil {
			_ = st.Finalize()
			return nil, err
		}
		cols[i] = name
	}
	r := NewQueryResult(cols, rows)
	return &r, st.Finalize()
}
