package versioned

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/retry"
	"github.com/roach88/snitch/internal/schema"
)

// ErrTimeRegression is returned when a write is older than the open state
// or edge it would close.
var ErrTimeRegression = errors.New("timestamp precedes current interval")

// Write kinds reported to the write observer.
const (
	WriteNodeCreated = "node_created"
	WriteNodeUpdated = "node_updated"
	WriteStateOpened = "state_opened"
	WriteStateMerged = "state_replaced"
	WriteEdgeOpened  = "edge_opened"
	WriteEdgeClosed  = "edge_closed"

	WriteEdgeRetracted = "edge_retracted"
)

// Store reads and writes versioned entities.
type Store struct {
	backend graph.Backend
	reg     *schema.Registry
	policy  retry.Policy
	logger  *slog.Logger
	onWrite func(kind string)
}

// Option configures a Store.
type Option func(*Store)

// WithRetry sets the transient-error retry policy.
func WithRetry(p retry.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithWriteObserver registers a callback invoked once per graph write.
func WithWriteObserver(fn func(kind string)) Option {
	return func(s *Store) { s.onWrite = fn }
}

// New creates a Store over backend.
func New(backend graph.Backend, reg *schema.Registry, opts ...Option) *Store {
	s := &Store{backend: backend, reg: reg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.policy.Logger == nil {
		s.policy.Logger = s.logger
	}
	return s
}

// Registry returns the registry the store validates against.
func (s *Store) Registry() *schema.Registry { return s.reg }

// Backend returns the underlying graph backend.
func (s *Store) Backend() graph.Backend { return s.backend }

// Key returns the graph key of an identity node.
func Key(t *schema.EntityType, identity string) graph.Key {
	return graph.Key{Label: t.Label, Property: t.Identity, Identity: identity}
}

// KeyOf returns the graph key of an instance.
func KeyOf(in entity.Instance) graph.Key {
	return Key(in.Type(), in.Identity())
}

func (s *Store) wrote(kind string) {
	if s.onWrite != nil {
		s.onWrite(kind)
	}
}

// Retry runs fn in a fresh transaction under the store's retry policy.
func (s *Store) Retry(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	return s.policy.Do(ctx, s.backend.IsTransient, func(ctx context.Context) error {
		return graph.InTx(ctx, s.backend, func(tx graph.Tx) error {
			return fn(ctx, tx)
		})
	})
}

// Find returns the identity and static properties of the node with the
// given identity. The bool is false when no such node exists.
func (s *Store) Find(ctx context.Context, t *schema.EntityType, identity string) (entity.Instance, bool, error) {
	v := "n"
	rows, err := s.backend.Query(ctx, graphir.Traversal{
		Steps: []graphir.Step{{Var: v, Label: t.Label, Identity: t.Identity}},
		Where: graphir.Compare{Ref: graphir.Ref{Var: v, Prop: t.Identity}, Op: graphir.OpEq, Value: identity},
		Limit: 1,
	})
	if err != nil {
		return entity.Instance{}, false, fmt.Errorf("find %s(%s): %w", t.Label, identity, err)
	}
	if len(rows) == 0 {
		return entity.Instance{}, false, nil
	}
	in, err := entity.FromProperties(t, rows[0][t.Label])
	if err != nil {
		return entity.Instance{}, false, fmt.Errorf("find %s(%s): %w", t.Label, identity, err)
	}
	return in, true, nil
}

// Update makes the graph reflect in as of at.
func (s *Store) Update(ctx context.Context, in entity.Instance, at int64) error {
	return s.Retry(ctx, func(ctx context.Context, tx graph.Tx) error {
		return s.UpdateTx(ctx, tx, in, at)
	})
}

// UpdateTx is Update inside an existing transaction.
func (s *Store) UpdateTx(ctx context.Context, tx graph.Tx, in entity.Instance, at int64) error {
	if in.IsZero() {
		return errors.New("update: zero instance")
	}
	t := in.Type()
	k := KeyOf(in)

	if err := s.upsertNode(ctx, tx, k, in, at); err != nil {
		return err
	}
	if !t.HasState() {
		return nil
	}

	want := in.State()
	cur, ok, err := tx.CurrentState(ctx, k)
	if err != nil {
		return err
	}
	if ok {
		if propval.EqualMaps(cur.Props, want, t.State) {
			return nil
		}
		switch {
		case cur.From == at:
			// A second snapshot at the same instant replaces the first
			// rather than leaving a zero-width interval behind.
			if err := tx.ReplaceState(ctx, k, want); err != nil {
				return err
			}
			s.wrote(WriteStateMerged)
			return nil
		case cur.From > at:
			return fmt.Errorf("%s: state from %d, write at %d: %w", in, cur.From, at, ErrTimeRegression)
		}
		if err := tx.CloseState(ctx, k, at); err != nil {
			return err
		}
	}
	if err := tx.OpenState(ctx, k, t.StateLabel, want, at); err != nil {
		return err
	}
	s.wrote(WriteStateOpened)
	s.logger.Debug("state opened", "entity", in.String(), "from", at)
	return nil
}

func (s *Store) upsertNode(ctx context.Context, tx graph.Tx, k graph.Key, in entity.Instance, at int64) error {
	stored, ok, err := tx.Node(ctx, k)
	if err != nil {
		return err
	}
	if !ok {
		props := in.IdentityProperties()
		props[schema.CreatedAt] = at
		if err := tx.CreateNode(ctx, k, props); err != nil {
			return err
		}
		s.wrote(WriteNodeCreated)
		return nil
	}

	changed := map[string]any{}
	for name, v := range in.Static() {
		if !propval.Equal(stored[name], v) {
			changed[name] = v
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := tx.SetNode(ctx, k, changed); err != nil {
		return err
	}
	s.wrote(WriteNodeUpdated)
	return nil
}

// ConstraintKeys returns one key per registered type naming its identity
// property, in label order.
func (s *Store) ConstraintKeys() []graph.Key {
	var keys []graph.Key
	for _, label := range s.reg.Labels() {
		t, _ := s.reg.Type(label)
		keys = append(keys, graph.Key{Label: t.Label, Property: t.Identity})
	}
	return keys
}

// EnsureConstraints creates the identity uniqueness constraints of every
// registered type.
func (s *Store) EnsureConstraints(ctx context.Context) ([]graph.Key, error) {
	keys := s.ConstraintKeys()
	if err := s.backend.EnsureConstraints(ctx, keys); err != nil {
		return nil, fmt.Errorf("ensure constraints: %w", err)
	}
	return keys, nil
}
