package versioned

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/schema"
)

// EdgeSet is one parent's children over one relationship role.
type EdgeSet struct {
	store        *Store
	Source       entity.Instance
	Relationship string
	Child        *schema.EntityType
}

// Edges returns the edge set of source's relationship role.
func (s *Store) Edges(source entity.Instance, role string) (*EdgeSet, error) {
	c, ok := source.Type().Child(role)
	if !ok {
		return nil, &schema.Error{
			Code:     schema.ErrCodeInvalidTraversal,
			Label:    source.Label(),
			Property: role,
			Message:  "no such relationship role",
		}
	}
	child, ok := s.reg.Type(c.Label)
	if !ok {
		return nil, schema.NewUnknownType(c.Label)
	}
	return &EdgeSet{store: s, Source: source, Relationship: c.Relationship, Child: child}, nil
}

// Update reconciles the open edges against children as of at. Children
// must already be persisted.
func (e *EdgeSet) Update(ctx context.Context, children []entity.Instance, at int64) error {
	return e.store.Retry(ctx, func(ctx context.Context, tx graph.Tx) error {
		return e.UpdateTx(ctx, tx, children, at)
	})
}

// UpdateTx is Update inside an existing transaction.
func (e *EdgeSet) UpdateTx(ctx context.Context, tx graph.Tx, children []entity.Instance, at int64) error {
	for _, c := range children {
		if c.IsZero() || c.Label() != e.Child.Label {
			return fmt.Errorf("%s %s: child %s is not a %s", e.Source, e.Relationship, c, e.Child.Label)
		}
	}

	src := KeyOf(e.Source)
	dst := Key(e.Child, "")
	open, err := tx.OpenEdges(ctx, src, e.Relationship, dst)
	if err != nil {
		return err
	}
	from := make(map[string]int64, len(open))
	existing := make([]string, len(open))
	for i, oe := range open {
		from[oe.Identity] = oe.From
		existing[i] = oe.Identity
	}

	toClose, toOpen := reconcile(existing, entity.Identities(children))
	for _, id := range toClose {
		if from[id] > at {
			return fmt.Errorf("%s %s -> %s: edge from %d, write at %d: %w",
				e.Source, e.Relationship, id, from[id], at, ErrTimeRegression)
		}
	}
	for _, id := range toClose {
		dst.Identity = id
		if from[id] == at {
			// Opened and dropped at the same instant: the edge never held.
			if err := tx.DeleteEdge(ctx, src, e.Relationship, dst); err != nil {
				return err
			}
			e.store.wrote(WriteEdgeRetracted)
			continue
		}
		if err := tx.CloseEdge(ctx, src, e.Relationship, dst, at); err != nil {
			return err
		}
		e.store.wrote(WriteEdgeClosed)
	}
	for _, id := range toOpen {
		dst.Identity = id
		if err := tx.OpenEdge(ctx, src, e.Relationship, dst, at); err != nil {
			return err
		}
		e.store.wrote(WriteEdgeOpened)
	}
	if len(toClose)+len(toOpen) > 0 {
		e.store.logger.Debug("edges reconciled",
			"source", e.Source.String(), "rel", e.Relationship,
			"closed", len(toClose), "opened", len(toOpen))
	}
	return nil
}

// reconcile returns existing - incoming and incoming - existing, sorted.
func reconcile(existing, incoming []string) (toClose, toOpen []string) {
	in := make(map[string]bool, len(incoming))
	for _, id := range incoming {
		in[id] = true
	}
	have := make(map[string]bool, len(existing))
	for _, id := range existing {
		have[id] = true
		if !in[id] {
			toClose = append(toClose, id)
		}
	}
	for _, id := range incoming {
		if !have[id] {
			toOpen = append(toOpen, id)
		}
	}
	sort.Strings(toClose)
	sort.Strings(toOpen)
	return toClose, toOpen
}

// Sync persists every child and then reconciles the edge set, the order
// edge writes require.
func (e *EdgeSet) Sync(ctx context.Context, children []entity.Instance, at int64) error {
	for _, c := range children {
		if err := e.store.Update(ctx, c, at); err != nil {
			return err
		}
	}
	return e.Update(ctx, children, at)
}
