// Package metrics exposes ingestion and diff counters.
//
// A Recorder owns its own prometheus registry so tests and concurrent
// syncs never share global state. All methods are safe on a nil
// *Recorder, which records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeSynced    = "synced"
	OutcomeSkipped   = "skipped"
	OutcomeStale     = "stale"
	OutcomeLocked    = "locked"
	OutcomeFailed    = "failed"
	OutcomeRecovered = "recovered"
)

// Recorder collects snitch metrics.
type Recorder struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	retries        prometheus.Counter
	writes         *prometheus.CounterVec
	lockContention prometheus.Counter
	diffSeconds    prometheus.Histogram
	syncSeconds    prometheus.Histogram
}

// New creates a recorder with every metric registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snitch_runs_total",
				Help: "Runs processed by sync, by outcome",
			},
			[]string{"outcome"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snitch_transient_retries_total",
			Help: "Transactions retried after a transient storage error",
		}),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snitch_entity_writes_total",
				Help: "Graph writes by kind",
			},
			[]string{"kind"},
		),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snitch_lock_contention_total",
			Help: "Environment lock acquisitions refused because the lock was held",
		}),
		diffSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snitch_diff_seconds",
			Help:    "Time spent computing diffs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		syncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snitch_run_sync_seconds",
			Help:    "Time spent ingesting one run",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}
	r.registry.MustRegister(r.runs, r.retries, r.writes, r.lockContention, r.diffSeconds, r.syncSeconds)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RunOutcome counts one processed run.
func (r *Recorder) RunOutcome(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// Retry counts one transient retry. Its signature matches
// retry.Policy.OnRetry.
func (r *Recorder) Retry(int, error) {
	if r == nil {
		return
	}
	r.retries.Inc()
}

// Write counts one graph write. Its signature matches
// versioned.WithWriteObserver.
func (r *Recorder) Write(kind string) {
	if r == nil {
		return
	}
	r.writes.WithLabelValues(kind).Inc()
}

// LockContention counts one refused lock acquisition.
func (r *Recorder) LockContention() {
	if r == nil {
		return
	}
	r.lockContention.Inc()
}

// ObserveDiff records the duration of one diff computation.
func (r *Recorder) ObserveDiff(d time.Duration) {
	if r == nil {
		return
	}
	r.diffSeconds.Observe(d.Seconds())
}

// ObserveSync records the duration of one run ingestion.
func (r *Recorder) ObserveSync(d time.Duration) {
	if r == nil {
		return
	}
	r.syncSeconds.Observe(d.Seconds())
}

// WriteTextfile writes every metric in the text exposition format to
// path, for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
