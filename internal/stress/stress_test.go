package stress

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/native"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_AllEventsRouted(t *testing.T) {
	d := New(native.NewLib(),
		WithConnections(6),
		WithWorkers(3),
		WithTransactions(20),
		WithRowsPerTx(2),
		WithLogger(quiet()),
	)
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6*20), report.Committed)
	assert.Equal(t, int64(6*20*2), report.RowChanges)
	assert.Zero(t, report.Vetoed)
	assert.Zero(t, report.Rollbacks)
	assert.Zero(t, report.Misrouted)
	assert.Zero(t, report.Failures)
}

func TestRun_Vetoes(t *testing.T) {
	d := New(native.NewLib(),
		WithConnections(4),
		WithTransactions(10),
		WithRowsPerTx(1),
		WithVetoEvery(5),
		WithLogger(quiet()),
	)
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	// Transactions 5 and 10 of each connection are vetoed.
	assert.Equal(t, int64(4*2), report.Vetoed)
	assert.Equal(t, int64(4*2), report.Rollbacks)
	assert.Equal(t, int64(4*8), report.Committed)
	assert.Zero(t, report.Misrouted)
	assert.Zero(t, report.Failures)
}

func TestRun_FileBacked(t *testing.T) {
	d := New(native.NewLib(),
		WithConnections(3),
		WithTransactions(5),
		WithDir(t.TempDir()),
		WithLogger(quiet()),
	)
	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15), report.Committed)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(native.NewLib(), WithConnections(2), WithLogger(quiet()))
	report, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Committed)
}

func TestGather_SumsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	vec := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "sqlbridge_test_total",
		Help: "test",
	}, []string{"event"})
	vec.WithLabelValues("a").Add(2)
	vec.WithLabelValues("b").Add(3)
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "other_total", Help: "ignored"}).Inc()

	m, err := gather(reg)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"sqlbridge_test_total": 5}, m)
	assert.Equal(t, []string{"sqlbridge_test_total"}, MetricNames(m))
}

func TestMetrics_IncludesDispatchCounters(t *testing.T) {
	_, err := New(native.NewLib(), WithConnections(1), WithTransactions(1), WithLogger(quiet())).Run(context.Background())
	require.NoError(t, err)

	m, err := Metrics()
	require.NoError(t, err)
	assert.Greater(t, m["sqlbridge_hook_events_delivered_total"], float64(0))
}
