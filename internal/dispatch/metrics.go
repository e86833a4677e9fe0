package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbridge_hook_events_delivered_total",
			Help: "Hook events delivered to a listener",
		},
		[]string{"event"},
	)
	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbridge_hook_events_dropped_total",
			Help: "Hook events with no listener bound for the capability",
		},
		[]string{"event"},
	)
	listenerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbridge_hook_listener_failures_total",
			Help: "Listener errors and recovered panics at the dispatch boundary",
		},
		[]string{"event"},
	)
	commitsVetoed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlbridge_commits_vetoed_total",
			Help: "Commits aborted by a listener veto",
		},
	)
)

const (
	eventRowChange = "row_change"
	eventCommit    = "commit"
	eventRollback  = "rollback"
)
