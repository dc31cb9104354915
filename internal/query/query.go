// Package query builds time-sliced traversals from a root type down to a
// target type.
//
// A Query walks the registry path to its target: one step per ancestor
// over its declared relationship, plus a HAS_STATE step for every
// stateful type. Every relationship interval and every state interval is
// constrained to contain the query instant, so each row is the
// root-to-target chain as it was at that instant. Rows merge identity,
// static and state properties per label.
//
// Filters and order keys are validated against the registry when added:
// a type off the path, an undeclared property or an operator outside the
// whitelist fails immediately with a *schema.Error.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/schema"
)

// Row is one result row keyed by label.
type Row = graph.Row

// Query is a traversal under construction. It is not safe for concurrent
// use.
type Query struct {
	reg    *schema.Registry
	reader graph.Reader

	target *schema.EntityType
	path   []*schema.EntityType // root first, target last
	steps  []graphir.Step

	filters []graphir.Predicate
	order   []graphir.Order
	at      int64
	skip    int
	limit   int

	count *int64
}

// New starts a query for label at the current time.
func New(reg *schema.Registry, reader graph.Reader, label string) (*Query, error) {
	target, ok := reg.Type(label)
	if !ok {
		return nil, schema.NewUnknownType(label)
	}
	path, _ := reg.PathTo(label)

	q := &Query{
		reg:    reg,
		reader: reader,
		target: target,
		at:     time.Now().UnixMilli(),
	}
	for _, p := range path {
		t, _ := reg.Type(p.Label)
		q.path = append(q.path, t)
	}
	q.path = append(q.path, target)

	for i, t := range q.path {
		v := varName(t.Label)
		s := graphir.Step{Var: v, Label: t.Label, Identity: t.Identity}
		if i > 0 {
			s.Rel = path[i-1].Relationship
			s.RelVar = fmt.Sprintf("r%d", i-1)
		}
		if t.HasState() {
			s.State = &graphir.StateStep{
				Var:    v + "_state",
				RelVar: "r_" + v + "_state",
				Label:  t.StateLabel,
			}
		}
		q.steps = append(q.steps, s)
	}
	return q, nil
}

func varName(label string) string {
	return strings.ToLower(label)
}

// Target returns the target type.
func (q *Query) Target() *schema.EntityType { return q.target }

// Labels returns the labels of the path, root first.
func (q *Query) Labels() []string {
	out := make([]string, len(q.path))
	for i, t := range q.path {
		out[i] = t.Label
	}
	return out
}

// Time sets the instant every interval predicate tests.
func (q *Query) Time(ms int64) *Query {
	q.at = ms
	q.count = nil
	return q
}

// At returns the query instant.
func (q *Query) At() int64 { return q.at }

// step returns the path step for onType; empty means the target.
func (q *Query) step(onType string) (*schema.EntityType, graphir.Step, error) {
	if onType == "" {
		onType = q.target.Label
	}
	t, ok := q.reg.Type(onType)
	if !ok {
		return nil, graphir.Step{}, schema.NewUnknownType(onType)
	}
	for i, p := range q.path {
		if p.Label == onType {
			return t, q.steps[i], nil
		}
	}
	return nil, graphir.Step{}, &schema.Error{
		Code:    schema.ErrCodeInvalidTraversal,
		Label:   onType,
		Message: fmt.Sprintf("%s is not on the path to %s", onType, q.target.Label),
	}
}

func (q *Query) ref(prop, onType string) (graphir.Ref, error) {
	t, s, err := q.step(onType)
	if err != nil {
		return graphir.Ref{}, err
	}
	if !t.HasProperty(prop) {
		return graphir.Ref{}, schema.NewUnknownProperty(t.Label, prop)
	}
	if t.IsState(prop) {
		return graphir.Ref{Var: s.State.Var, Prop: prop}, nil
	}
	return graphir.Ref{Var: s.Var, Prop: prop}, nil
}

// Filter adds `prop op value` on onType, which must be the target or one
// of its ancestors. An empty onType means the target.
func (q *Query) Filter(prop, op string, value any, onType string) error {
	ref, err := q.ref(prop, onType)
	if err != nil {
		return err
	}
	operator, ok := graphir.ParseOperator(strings.ToUpper(strings.TrimSpace(op)))
	if !ok {
		return &schema.Error{Code: schema.ErrCodeInvalidOperator, Property: prop, Message: fmt.Sprintf("unsupported operator %q", op)}
	}
	v, err := propval.Normalize(value)
	if err != nil {
		return fmt.Errorf("filter %s: %w", prop, err)
	}
	if v == nil {
		return fmt.Errorf("filter %s: value is required", prop)
	}
	if _, isString := v.(string); operator.IsString() && !isString {
		return &schema.Error{Code: schema.ErrCodeInvalidOperator, Property: prop, Message: fmt.Sprintf("%s needs a string value", operator)}
	}
	q.filters = append(q.filters, graphir.Compare{Ref: ref, Op: operator, Value: v})
	q.count = nil
	return nil
}

// Identity restricts the target to one identity value.
func (q *Query) Identity(identity string) *Query {
	// The identity property is always declared on the target.
	_ = q.Filter(q.target.Identity, string(graphir.OpEq), identity, "")
	return q
}

// OrderBy appends an order key. dir is ASC or DESC, case-insensitive.
func (q *Query) OrderBy(prop, dir, onType string) error {
	ref, err := q.ref(prop, onType)
	if err != nil {
		return err
	}
	var desc bool
	switch strings.ToUpper(strings.TrimSpace(dir)) {
	case "", "ASC":
	case "DESC":
		desc = true
	default:
		return &schema.Error{Code: schema.ErrCodeInvalidOperator, Property: prop, Message: fmt.Sprintf("unsupported direction %q", dir)}
	}
	q.order = append(q.order, graphir.Order{Ref: ref, Desc: desc})
	return nil
}

// Skip sets the number of rows to skip.
func (q *Query) Skip(n int) *Query {
	q.skip = max(n, 0)
	return q
}

// Limit caps the number of rows; 0 means unbounded.
func (q *Query) Limit(n int) *Query {
	q.limit = max(n, 0)
	return q
}

// Page selects 1-based page number of size rows.
func (q *Query) Page(page, size int) *Query {
	if page < 1 {
		page = 1
	}
	return q.Skip((page - 1) * size).Limit(size)
}

// PageIndex selects size rows starting at the 1-based row index. Indexes
// below 1 start at the first row.
func (q *Query) PageIndex(index, size int) *Query {
	return q.Skip(max(index-1, 0)).Limit(size)
}

// where returns the time predicates followed by the filters.
func (q *Query) where() graphir.Predicate {
	var preds []graphir.Predicate
	if first := q.steps[0]; first.State == nil {
		// A stateless root has no interval of its own; its creation time
		// bounds it instead.
		preds = append(preds, graphir.Compare{
			Ref:   graphir.Ref{Var: first.Var, Prop: schema.CreatedAt},
			Op:    graphir.OpLe,
			Value: q.at,
		})
	}
	for _, s := range q.steps {
		if s.RelVar != "" {
			preds = append(preds, graphir.During{Var: s.RelVar, At: q.at})
		}
		if s.State != nil {
			preds = append(preds, graphir.During{Var: s.State.RelVar, At: q.at})
		}
	}
	preds = append(preds, q.filters...)
	return graphir.And{Predicates: preds}
}

func (q *Query) orderKeys() []graphir.Order {
	if len(q.order) > 0 {
		return q.order
	}
	// Target identity first; ancestors break ties between rows that
	// reach one shared target through different parents.
	last := len(q.steps) - 1
	keys := []graphir.Order{{Ref: graphir.Ref{Var: q.steps[last].Var, Prop: q.steps[last].Identity}}}
	for _, s := range q.steps[:last] {
		keys = append(keys, graphir.Order{Ref: graphir.Ref{Var: s.Var, Prop: s.Identity}})
	}
	return keys
}

// Build returns the traversal for the current settings.
func (q *Query) Build() graphir.Traversal {
	return graphir.Traversal{
		Steps: append([]graphir.Step(nil), q.steps...),
		Where: q.where(),
		Order: q.orderKeys(),
		Skip:  q.skip,
		Limit: q.limit,
	}
}

// Fetch runs the query.
func (q *Query) Fetch(ctx context.Context) ([]Row, error) {
	rows, err := q.reader.Query(ctx, q.Build())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.target.Label, err)
	}
	return rows, nil
}

// Count returns the number of rows ignoring order and paging. The result
// is cached until the filters or the instant change.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.count != nil {
		return *q.count, nil
	}
	t := q.Build()
	t.Count = true
	t.Order, t.Skip, t.Limit = nil, 0, 0
	n, err := q.reader.Count(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.target.Label, err)
	}
	q.count = &n
	return n, nil
}

// Times returns the distinct instants at which anything below the node
// changed, newest first.
func Times(ctx context.Context, reg *schema.Registry, reader graph.Reader, label, identity string) ([]int64, error) {
	t, ok := reg.Type(label)
	if !ok {
		return nil, schema.NewUnknownType(label)
	}
	times, err := reader.Times(ctx, graphir.Times{Label: t.Label, Identity: t.Identity, Value: identity})
	if err != nil {
		return nil, fmt.Errorf("times %s(%s): %w", label, identity, err)
	}
	if times == nil {
		times = []int64{}
	}
	return times, nil
}
