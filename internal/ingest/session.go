package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/run"
	"github.com/roach88/snitch/internal/versioned"
)

// Snitcher ingests one family of collected documents from a run.
type Snitcher interface {
	Name() string
	Snitch(ctx context.Context, s *Session) error
}

// Session is one ingestion attempt of one run. Every write made through
// it is stamped with the run's completion time.
type Session struct {
	// AttemptID distinguishes retries of the same run in logs.
	AttemptID uuid.UUID

	Run   *run.Run
	Store *versioned.Store

	// TimeInMS is the run's completion time; all intervals start here.
	TimeInMS int64

	Logger *slog.Logger
}

func newSession(r *run.Run, store *versioned.Store, logger *slog.Logger) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("attempt id: %w", err)
	}
	return &Session{
		AttemptID: id,
		Run:       r,
		Store:     store,
		TimeInMS:  r.CompletedMillis(),
		Logger: logger.With(
			"environment", r.Environment().Identity(),
			"run", r.Name(),
			"attempt", id.String(),
		),
	}, nil
}

// Instance converts src using the store's registry.
func (s *Session) Instance(src entity.Source) (entity.Instance, error) {
	return entity.FromSource(s.Store.Registry(), src)
}

// Update persists src at the session time and returns its instance.
func (s *Session) Update(ctx context.Context, src entity.Source) (entity.Instance, error) {
	in, err := s.Instance(src)
	if err != nil {
		return entity.Instance{}, err
	}
	if err := s.Store.Update(ctx, in, s.TimeInMS); err != nil {
		return entity.Instance{}, err
	}
	return in, nil
}

// UpdateAll persists every source in order.
func (s *Session) UpdateAll(ctx context.Context, srcs []entity.Source) ([]entity.Instance, error) {
	out := make([]entity.Instance, 0, len(srcs))
	for _, src := range srcs {
		in, err := s.Update(ctx, src)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// SetChildren reconciles parent's role edges to exactly children, which
// must already be persisted.
func (s *Session) SetChildren(ctx context.Context, parent entity.Instance, role string, children []entity.Instance) error {
	edges, err := s.Store.Edges(parent, role)
	if err != nil {
		return err
	}
	return edges.Update(ctx, children, s.TimeInMS)
}

// Find looks up the persisted entity with src's identity.
func (s *Session) Find(ctx context.Context, src entity.Source) (entity.Instance, bool, error) {
	in, err := s.Instance(src)
	if err != nil {
		return entity.Instance{}, false, err
	}
	return s.Store.Find(ctx, in.Type(), in.Identity())
}
