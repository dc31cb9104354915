// Package ingest loads collection runs into the versioned graph.
//
// Runs are grouped by environment. Groups are processed concurrently, up
// to the configured concurrency, but the runs of one environment are
// ingested one at a time in completion order: each run is checked
// against the data its predecessor committed.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/lock"
	"github.com/roach88/snitch/internal/metrics"
	"github.com/roach88/snitch/internal/run"
	"github.com/roach88/snitch/internal/versioned"
)

// SyncLabel is the entity type recording the completion time of the last
// run synced into each environment. Stale runs are judged against it.
const SyncLabel = "EnvironmentSync"

// Syncer ingests runs.
type Syncer struct {
	store       *versioned.Store
	locker      lock.Locker
	snitchers   []Snitcher
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithConcurrency sets how many environments are ingested at once.
func WithConcurrency(n int) Option {
	return func(s *Syncer) { s.concurrency = n }
}

// WithClock sets the clock used for synced timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Syncer) { s.metrics = m }
}

// New creates a Syncer running snitchers in order for every run.
func New(store *versioned.Store, locker lock.Locker, snitchers []Snitcher, opts ...Option) *Syncer {
	s := &Syncer{
		store:       store,
		locker:      locker,
		snitchers:   snitchers,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Report lists run paths by outcome.
type Report struct {
	mu       sync.Mutex
	Synced   []string `json:"synced"`
	Skipped  []string `json:"skipped"`
	Stale    []string `json:"stale"`
	Locked   []string `json:"locked"`
	Failed   []string `json:"failed"`
	Deferred []string `json:"deferred"` // not attempted because an earlier run of the group stopped it
}

func (r *Report) add(outcome string, paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case metrics.OutcomeSynced:
		r.Synced = append(r.Synced, paths...)
	case metrics.OutcomeSkipped:
		r.Skipped = append(r.Skipped, paths...)
	case metrics.OutcomeStale:
		r.Stale = append(r.Stale, paths...)
	case metrics.OutcomeLocked:
		r.Locked = append(r.Locked, paths...)
	case metrics.OutcomeFailed:
		r.Failed = append(r.Failed, paths...)
	default:
		r.Deferred = append(r.Deferred, paths...)
	}
}

func (r *Report) sort() {
	for _, s := range [][]string{r.Synced, r.Skipped, r.Stale, r.Locked, r.Failed, r.Deferred} {
		slices.Sort(s)
	}
}

// SyncAll ingests every run found in dataDir.
func (s *Syncer) SyncAll(ctx context.Context, dataDir string) (*Report, error) {
	runs, err := run.Find(dataDir, s.logger)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, runs)
}

// Sync ingests runs. Per-run failures are recorded in the report; the
// returned error is reserved for cancellation.
func (s *Syncer) Sync(ctx context.Context, runs []*run.Run) (*Report, error) {
	start := time.Now()
	report := &Report{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, group := range Group(runs) {
		g.Go(func() error {
			return s.syncGroup(gctx, group, report)
		})
	}
	err := g.Wait()
	report.sort()

	s.logger.Info("sync finished",
		"duration", time.Since(start),
		"synced", len(report.Synced),
		"skipped", len(report.Skipped)+len(report.Stale),
		"locked", len(report.Locked),
		"failed", len(report.Failed))
	return report, err
}

// Group sorts runs by environment and completion time and splits them
// into one group per environment.
func Group(runs []*run.Run) [][]*run.Run {
	sorted := slices.Clone(runs)
	slices.SortStableFunc(sorted, func(a, b *run.Run) int {
		ea, eb := a.Environment(), b.Environment()
		return cmp.Or(
			cmp.Compare(ea.AccountNumber, eb.AccountNumber),
			cmp.Compare(ea.Name, eb.Name),
			a.Completed().Compare(b.Completed()),
		)
	})

	var groups [][]*run.Run
	for i, r := range sorted {
		if i == 0 || r.Environment() != sorted[i-1].Environment() {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], r)
	}
	return groups
}

// syncGroup ingests one environment's runs in order. A locked
// environment or a failed run stops the group: later runs would make the
// skipped one stale forever.
func (s *Syncer) syncGroup(ctx context.Context, group []*run.Run, report *Report) error {
	for i, r := range group {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome := s.outcome(ctx, r)
		report.add(outcome, r.Path())
		s.metrics.RunOutcome(outcome)

		if outcome == metrics.OutcomeLocked || outcome == metrics.OutcomeFailed {
			if rest := group[i+1:]; len(rest) > 0 {
				paths := make([]string, len(rest))
				for j, d := range rest {
					paths[j] = d.Path()
				}
				report.add("", paths...)
				s.logger.Info("deferring remaining runs",
					"environment", r.Environment().Identity(), "count", len(rest))
			}
			return nil
		}
	}
	return nil
}

func (s *Syncer) outcome(ctx context.Context, r *run.Run) string {
	err := s.SyncRun(ctx, r)
	logger := s.logger.With("run", r.Path())
	switch {
	case err == nil:
		return metrics.OutcomeSynced
	case errors.Is(err, run.ErrAlreadySynced), errors.Is(err, run.ErrInvalidStatus):
		logger.Info("skipping run", "reason", err)
		return metrics.OutcomeSkipped
	case errors.Is(err, run.ErrStaleRun):
		logger.Info("skipping run", "reason", err)
		return metrics.OutcomeStale
	case errors.Is(err, lock.ErrEnvironmentLocked):
		logger.Info("environment locked", "reason", err)
		s.metrics.LockContention()
		return metrics.OutcomeLocked
	default:
		logger.Error("unable to complete run", "error", err)
		return metrics.OutcomeFailed
	}
}

// SyncRun ingests one run under its environment lock.
func (s *Syncer) SyncRun(ctx context.Context, r *run.Run) error {
	env := r.Environment()
	return lock.With(ctx, s.locker, s.logger, env.AccountNumber, env.Name, func(ctx context.Context) error {
		start := time.Now()
		if err := s.claim(ctx, r); err != nil {
			return err
		}

		if err := s.consume(ctx, r); err != nil {
			if ferr := r.Fail(); ferr != nil {
				err = errors.Join(err, fmt.Errorf("mark run failed: %w", ferr))
			}
			return err
		}
		s.metrics.ObserveSync(time.Since(start))
		return nil
	})
}

// claim moves r to syncing after checking it may be ingested. The
// descriptor is reread under the lock so a concurrent pass's changes are
// seen.
func (s *Syncer) claim(ctx context.Context, r *run.Run) error {
	if err := r.Reload(); err != nil {
		return err
	}
	recovered, err := r.Recover()
	if err != nil {
		return err
	}
	if recovered {
		s.logger.Warn("recovered interrupted run", "run", r.Path())
		s.metrics.RunOutcome(metrics.OutcomeRecovered)
	}
	if err := r.Eligible(); err != nil {
		return err
	}
	if err := s.checkRunTime(ctx, r); err != nil {
		return err
	}
	return r.Start()
}

// checkRunTime rejects a run that is not newer than the last run synced
// into its environment. Writes left behind by a failed run do not count:
// the failed run is retried at the same instant.
func (s *Syncer) checkRunTime(ctx context.Context, r *run.Run) error {
	t, ok := s.store.Registry().Type(SyncLabel)
	if !ok {
		return fmt.Errorf("registry has no %s type", SyncLabel)
	}
	in, ok, err := s.store.Find(ctx, t, r.Environment().Identity())
	if err != nil || !ok {
		return err
	}
	var last int64
	v, _ := in.Get("last_synced")
	switch v := v.(type) {
	case int64:
		last = v
	case float64:
		last = int64(v)
	}
	s.logger.Debug("comparing run time", "run", r.Path(), "completed", r.CompletedMillis(), "last_synced", last)
	if r.CompletedMillis() <= last {
		return fmt.Errorf("%s completed at %d, environment synced at %d: %w",
			r.Path(), r.CompletedMillis(), last, run.ErrStaleRun)
	}
	return nil
}

// markSynced records r as the newest run ingested into its environment.
func (s *Syncer) markSynced(ctx context.Context, r *run.Run) error {
	t, ok := s.store.Registry().Type(SyncLabel)
	if !ok {
		return fmt.Errorf("registry has no %s type", SyncLabel)
	}
	env := r.Environment()
	in, err := entity.New(t, map[string]any{
		"account_number": env.AccountNumber,
		"name":           env.Name,
		"last_synced":    r.CompletedMillis(),
	})
	if err != nil {
		return err
	}
	return s.store.Update(ctx, in, r.CompletedMillis())
}

func (s *Syncer) consume(ctx context.Context, r *run.Run) error {
	sess, err := newSession(r, s.store, s.logger)
	if err != nil {
		return err
	}
	sess.Logger.Info("starting collection")

	for _, sn := range s.snitchers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sn.Snitch(ctx, sess); err != nil {
			return fmt.Errorf("%s: %w", sn.Name(), err)
		}
	}
	if err := s.markSynced(ctx, r); err != nil {
		return err
	}
	if err := r.Finish(s.now()); err != nil {
		return err
	}
	sess.Logger.Info("run synced", "time_in_ms", sess.TimeInMS)
	return nil
}
