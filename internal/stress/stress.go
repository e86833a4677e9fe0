// Package stress drives many connections at once through one bridge and
// checks that every hook event reaches the listener bound to the
// connection that produced it.
package stress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// errVeto is what the stress listener returns from OnCommit on vetoed
// transactions.
var errVeto = errors.New("stress: vetoed")

// Driver runs a fixed workload over a worker pool.
type Driver struct {
	engine       native.Engine
	logger       *slog.Logger
	connections  int
	workers      int
	transactions int
	rowsPerTx    int
	vetoEvery    int
	dir          string
}

// Option configures a Driver.
type Option func(*Driver)

// WithConnections sets how many connections are opened. Default 8.
func WithConnections(n int) Option {
	return func(d *Driver) {
		d.connections = n
	}
}

// WithWorkers bounds the pool. Default: one worker per connection.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		d.workers = n
	}
}

// WithTransactions sets transactions per connection. Default 50.
func WithTransactions(n int) Option {
	return func(d *Driver) {
		d.transactions = n
	}
}

// WithRowsPerTx sets inserts per transaction. Default 3.
func WithRowsPerTx(n int) Option {
	return func(d *Driver) {
		d.rowsPerTx = n
	}
}

// WithVetoEvery makes the listener veto every nth transaction and turns
// commit veto on. Zero disables vetoes.
func WithVetoEvery(n int) Option {
	return func(d *Driver) {
		d.vetoEvery = n
	}
}

// WithDir puts each connection's database in its own file under dir
// instead of in memory.
func WithDir(dir string) Option {
	return func(d *Driver) {
		d.dir = dir
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// New creates a driver over engine.
func New(engine native.Engine, opts ...Option) *Driver {
	d := &Driver{
		engine:       engine,
		logger:       slog.Default(),
		connections:  8,
		transactions: 50,
		rowsPerTx:    3,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = d.connections
	}
	return d
}

// Report summarizes a run.
type Report struct {
	Connections  int           `json:"connections"`
	Transactions int           `json:"transactions"`
	Committed    int64         `json:"committed"`
	Vetoed       int64         `json:"vetoed"`
	RowChanges   int64         `json:"row_changes"`
	Rollbacks    int64         `json:"rollbacks"`
	Misrouted    int64         `json:"misrouted"`
	Failures     int64         `json:"listener_failures"`
	Duration     time.Duration `json:"duration"`
}

// counter is the per-connection listener. It checks every event against
// the handle it was registered for and that all events of a transaction
// carry the same token.
type counter struct {
	db        native.ConnHandle
	vetoEvery int
	report    *Report

	mu      sync.Mutex
	tx      string
	commits int
}

func (c *counter) check(conn native.ConnHandle, tx string) {
	if conn != c.db {
		atomic.AddInt64(&c.report.Misrouted, 1)
		return
	}
	if c.tx != "" && c.tx != tx {
		atomic.AddInt64(&c.report.Misrouted, 1)
	}
	c.tx = tx
}

func (c *counter) OnRowChange(ev hook.RowChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.check(ev.Conn, ev.Tx)
	atomic.AddInt64(&c.report.RowChanges, 1)
}

func (c *counter) OnCommit(ev hook.Commit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.check(ev.Conn, ev.Tx)
	c.commits++
	if c.vetoEvery > 0 && c.commits%c.vetoEvery == 0 {
		// The rollback that follows still belongs to this transaction.
		return errVeto
	}
	c.tx = ""
	atomic.AddInt64(&c.report.Committed, 1)
	return nil
}

func (c *counter) OnRollback(ev hook.Rollback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.check(ev.Conn, ev.Tx)
	c.tx = ""
	atomic.AddInt64(&c.report.Rollbacks, 1)
}

// Run opens the connections, runs the workload on the pool, and waits for
// every worker. The first worker error is returned with the report.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	b := bridge.New(d.engine,
		bridge.WithLogger(d.logger),
		bridge.WithCommitVeto(d.vetoEvery > 0),
	)
	report := &Report{Connections: d.connections, Transactions: d.transactions}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	pool, err := ants.NewPool(d.workers, ants.WithPanicHandler(func(v any) {
		d.logger.Error("stress worker panic", "panic", v)
		setErr(fmt.Errorf("stress: worker panic: %v", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("stress: create pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	for i := 0; i < d.connections; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := d.work(ctx, b, i, report); err != nil {
				setErr(err)
			}
		}); err != nil {
			wg.Done()
			setErr(fmt.Errorf("stress: submit connection %d: %w", i, err))
		}
	}
	wg.Wait()
	report.Duration = time.Since(start)
	report.Failures = b.Dispatcher().Failures()

	d.logger.Info("stress run finished",
		"connections", d.connections,
		"committed", report.Committed,
		"vetoed", report.Vetoed,
		"misrouted", report.Misrouted,
		"duration", report.Duration)
	return report, firstErr
}

func (d *Driver) path(i int) string {
	if d.dir == "" {
		return ":memory:"
	}
	return filepath.Join(d.dir, fmt.Sprintf("stress-%03d.db", i))
}

func (d *Driver) work(ctx context.Context, b *bridge.Bridge, i int, report *Report) error {
	conn, err := b.Open(d.path(i), 0)
	if err != nil {
		return fmt.Errorf("stress: open connection %d: %w", i, err)
	}
	defer conn.Close()

	if err := conn.Exec("CREATE TABLE IF NOT EXISTS events(id INTEGER PRIMARY KEY, worker INTEGER, n INTEGER)"); err != nil {
		return fmt.Errorf("stress: connection %d: %w", i, err)
	}
	if err := conn.SetListener(&counter{db: conn.Handle(), vetoEvery: d.vetoEvery, report: report}, hook.CapAll); err != nil {
		return err
	}
	defer conn.ClearListener()

	stmt, err := conn.Prepare("INSERT INTO events(worker, n) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("stress: connection %d: %w", i, err)
	}
	defer stmt.Finalize()

	for n := 0; n < d.transactions; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.transaction(conn, stmt, i, n); err != nil {
			if d.vetoEvery > 0 && sqlerr.IsConstraint(err) {
				atomic.AddInt64(&report.Vetoed, 1)
				continue
			}
			return fmt.Errorf("stress: connection %d tx %d: %w", i, n, err)
		}
	}
	return nil
}

func (d *Driver) transaction(conn *bridge.Conn, stmt *bridge.Stmt, worker, n int) error {
	if err := conn.Exec("BEGIN"); err != nil {
		return err
	}
	for r := 0; r < d.rowsPerTx; r++ {
		if err := stmt.BindAll(bridge.Integer(int64(worker)), bridge.Integer(int64(n))); err != nil {
			_ = conn.Exec("ROLLBACK")
			return err
		}
		if _, err := stmt.Step(); err != nil {
			_ = stmt.Reset()
			_ = conn.Exec("ROLLBACK")
			return err
		}
		if err := stmt.Reset(); err != nil {
			return err
		}
	}
	return conn.Exec("COMMIT")
}

// Metrics gathers the sqlbridge_* series from the default registry,
// summing across label values.
func Metrics() (map[string]float64, error) {
	return gather(prometheus.DefaultGatherer)
}

func gather(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("stress: gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "sqlbridge_") {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				sum += c.GetValue()
			}
		}
		out[mf.GetName()] = sum
	}
	return out, nil
}

// MetricNames returns the keys of m in order.
func MetricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
