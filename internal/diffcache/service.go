// Package diffcache computes each diff once and serves it from a cache.
//
// A diff is keyed by root label, identity and the two instants. The first
// request marks the key running and starts the computation in the
// background, waiting a short while for it. Requests that arrive while
// it runs get ErrRunning and are expected to poll; a failed computation
// is remembered for a shorter time as ErrJobFailed.
package diffcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/snitch/internal/diff"
	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/metrics"
	"github.com/roach88/snitch/internal/schema"
)

var (
	// ErrRunning means the diff is still being computed.
	ErrRunning = errors.New("diff is running, try later")

	// ErrJobFailed means the last computation of the diff failed.
	ErrJobFailed = errors.New("diff failed")
)

// Key identifies one diff.
type Key struct {
	Label    string
	Identity string
	Left     int64
	Right    int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", k.Label, k.Identity, k.Left, k.Right)
}

// Status is the state of a cache entry.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Entry is one cached diff.
type Entry struct {
	Status Status       `json:"status"`
	Result *diff.Result `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Store holds entries with expiry.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error

	// Claim stores a running entry unless key is present. It reports
	// whether the caller now owns the computation.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ComputeFunc computes a diff.
type ComputeFunc func(ctx context.Context, k Key) (*diff.Result, error)

// Options configures a Service.
type Options struct {
	TTL         time.Duration // lifetime of results and running markers
	ErrorTTL    time.Duration // lifetime of failure markers
	InitialWait time.Duration // how long Get waits for a new computation
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// Service fronts a ComputeFunc with a Store.
type Service struct {
	store   Store
	compute ComputeFunc
	opts    Options
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a Service.
func New(store Store, compute ComputeFunc, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.ErrorTTL <= 0 {
		opts.ErrorTTL = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, compute: compute, opts: opts, logger: logger}
}

type outcome struct {
	res *diff.Result
	err error
}

// Get returns the diff for k, computing it on a miss.
func (s *Service) Get(ctx context.Context, k Key) (*diff.Result, error) {
	key := k.String()
	e, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("diff cache get: %w", err)
	}
	if ok {
		return s.fromEntry(key, e)
	}

	s.logger.Debug("diff cache miss", "key", key)
	claimed, err := s.store.Claim(ctx, key, s.opts.TTL)
	if err != nil {
		return nil, fmt.Errorf("diff cache claim: %w", err)
	}
	if !claimed {
		return nil, ErrRunning
	}

	done := make(chan outcome, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.run(context.WithoutCancel(ctx), k)
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(s.opts.InitialWait)
	defer timer.Stop()
	select {
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJobFailed, o.err)
		}
		return o.res, nil
	case <-timer.C:
		return nil, ErrRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fromEntry(key string, e Entry) (*diff.Result, error) {
	switch e.Status {
	case StatusRunning:
		s.logger.Debug("diff cache hit, still running", "key", key)
		return nil, ErrRunning
	case StatusFailed:
		s.logger.Debug("diff cache hit, failed", "key", key)
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, e.Error)
	case StatusDone:
		if e.Result == nil {
			return nil, fmt.Errorf("%w: empty result", ErrJobFailed)
		}
		s.logger.Debug("diff cache hit", "key", key)
		return e.Result, nil
	default:
		return nil, fmt.Errorf("diff cache: unknown status %q", e.Status)
	}
}

func (s *Service) run(ctx context.Context, k Key) (*diff.Result, error) {
	start := time.Now()
	res, err := s.compute(ctx, k)
	s.opts.Metrics.ObserveDiff(time.Since(start))

	key := k.String()
	if err != nil {
		s.logger.Error("unable to complete diff", "key", key, "error", err)
		if serr := s.store.Set(ctx, key, Entry{Status: StatusFailed, Error: err.Error()}, s.opts.ErrorTTL); serr != nil {
			s.logger.Error("unable to cache diff failure", "key", key, "error", serr)
		}
		return nil, err
	}
	if serr := s.store.Set(ctx, key, Entry{Status: StatusDone, Result: res}, s.opts.TTL); serr != nil {
		s.logger.Error("unable to cache diff", "key", key, "error", serr)
	}
	return res, nil
}

// Wait blocks until every background computation has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Computer returns a ComputeFunc running diff.Compute against reader.
func Computer(reg *schema.Registry, reader graph.Reader, opts diff.Options) ComputeFunc {
	return func(ctx context.Context, k Key) (*diff.Result, error) {
		return diff.Compute(ctx, reg, reader, k.Label, k.Identity, k.Left, k.Right, opts)
	}
}
