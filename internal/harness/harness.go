package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/graph/sqlitegraph"
	"github.com/roach88/snitch/internal/schema"
	"github.com/roach88/snitch/internal/versioned"
)

// Harness applies scenario steps to one graph.
type Harness struct {
	graph  *sqlitegraph.Store
	reg    *schema.Registry
	store  *versioned.Store
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh graph in a temporary directory.
// A step that cannot be written is an execution error; an assertion that
// does not hold only fails the result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "snitch-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	g, err := sqlitegraph.Open(filepath.Join(dir, "graph.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open graph: %w", err)
	}
	ctx := context.Background()
	defer g.Close(ctx)

	reg, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		graph:  g,
		reg:    reg,
		store:  versioned.New(g, reg, versioned.WithLogger(logger)),
		logger: logger,
	}

	for i, step := range scenario.Steps {
		for j, es := range step.Entities {
			if _, err := h.apply(ctx, es, step.At); err != nil {
				return nil, fmt.Errorf("step %d entity %d: %w", i, j, err)
			}
		}
		h.logger.Info("step applied", "step", i, "at", step.At, "entities", len(step.Entities))
	}

	result := NewResult()
	for _, msg := range h.evaluate(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// apply writes es and its subtree as of at. Children are written before
// the relationships that point at them.
func (h *Harness) apply(ctx context.Context, es EntitySpec, at int64) (entity.Instance, error) {
	t, ok := h.reg.Type(es.Type)
	if !ok {
		return entity.Instance{}, schema.NewUnknownType(es.Type)
	}
	in, err := entity.New(t, es.Props)
	if err != nil {
		return entity.Instance{}, err
	}
	if err := h.store.Update(ctx, in, at); err != nil {
		return entity.Instance{}, err
	}

	roles := make([]string, 0, len(es.Children))
	for role := range es.Children {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		edges, err := h.store.Edges(in, role)
		if err != nil {
			return entity.Instance{}, err
		}
		kids := make([]entity.Instance, 0, len(es.Children[role]))
		for _, c := range es.Children[role] {
			kid, err := h.apply(ctx, c, at)
			if err != nil {
				return entity.Instance{}, fmt.Errorf("%s %s: %w", in, role, err)
			}
			kids = append(kids, kid)
		}
		if err := edges.Update(ctx, kids, at); err != nil {
			return entity.Instance{}, err
		}
	}
	return in, nil
}
