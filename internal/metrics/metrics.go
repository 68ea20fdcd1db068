// Package metrics exposes Prometheus instrumentation for the router, the
// model client, and the daemon subsystems. All collectors are registered on
// the default registry and served by the status API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Router metrics
	RouteTierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darby_route_tier_hits_total",
			Help: "Routing decisions by tier (instant, bash_shortcut, cached, native, model, default)",
		},
		[]string{"tier"},
	)

	// Model client metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darby_model_calls_total",
			Help: "Small-model calls by provider and purpose",
		},
		[]string{"provider", "purpose"},
	)

	ModelFailovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "darby_model_failovers_total",
			Help: "Times the resolved provider failed and the chain moved on",
		},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darby_model_tokens_total",
			Help: "Tokens consumed by provider and direction (input, output)",
		},
		[]string{"provider", "direction"},
	)

	// Context hygiene metrics
	BytesSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darby_bytes_saved_total",
			Help: "Bytes removed from model context by source (summarize, compact)",
		},
		[]string{"source"},
	)

	// Daemon metrics
	WatcherPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darby_watcher_polls_total",
			Help: "Watcher poll attempts by watcher and outcome (ok, error)",
		},
		[]string{"watcher", "outcome"},
	)

	WatcherEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darby_watcher_events_total",
			Help: "New events emitted by watcher after dedup",
		},
		[]string{"watcher"},
	)

	SchedulerDispatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "darby_scheduler_dispatches_total",
			Help: "Tasks dispatched by the scheduler tick",
		},
	)

	TaskFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "darby_task_failures_total",
			Help: "Task executions that ended in failure",
		},
	)

	TasksPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "darby_tasks_pending",
			Help: "Tasks currently in pending state",
		},
	)
)

// RecordRoute increments the tier counter for one routing decision.
func RecordRoute(tier string) {
	RouteTierHits.WithLabelValues(tier).Inc()
}

// RecordModelCall tracks one successful model call with its token usage.
func RecordModelCall(provider, purpose string, inputTokens, outputTokens int) {
	ModelCalls.WithLabelValues(provider, purpose).Inc()
	ModelTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	ModelTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// RecordBytesSaved tracks context bytes removed by the summarizer or compactor.
func RecordBytesSaved(source string, n int) {
	if n > 0 {
		BytesSaved.WithLabelValues(source).Add(float64(n))
	}
}

// RecordWatcherPoll tracks one watcher poll and the events it produced.
func RecordWatcherPoll(watcher string, events int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	WatcherPolls.WithLabelValues(watcher, outcome).Inc()
	if events > 0 {
		WatcherEvents.WithLabelValues(watcher).Add(float64(events))
	}
}
