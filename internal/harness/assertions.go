package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/snitch/internal/diff"
	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/query"
)

// evaluate checks every assertion in order, recording an observation for
// each one that could be answered. It returns one message per failure.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		output, err := h.observe(ctx, a)
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s %s): %v", i, a.Type, a.Label, err))
			continue
		}
		result.observe(Observation{Assertion: i, Type: a.Type, Label: a.Label, ID: a.ID, Output: output.value})
		if output.mismatch != "" {
			errs = append(errs, fmt.Sprintf("assertion %d (%s %s): %s", i, a.Type, a.Label, output.mismatch))
		}
	}
	return errs
}

type observed struct {
	value    any
	mismatch string
}

func (h *Harness) observe(ctx context.Context, a Assertion) (observed, error) {
	switch a.Type {
	case AssertQuery:
		return h.assertQuery(ctx, a)
	case AssertCount:
		return h.assertCount(ctx, a)
	case AssertTimes:
		return h.assertTimes(ctx, a)
	case AssertDiff:
		return h.assertDiff(ctx, a)
	case AssertState:
		return h.assertState(ctx, a)
	}
	return observed{}, fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) build(a Assertion) (*query.Query, error) {
	q, err := query.New(h.reg, h.graph, a.Label)
	if err != nil {
		return nil, err
	}
	q.Time(a.At)
	for _, f := range a.Filters {
		if err := q.Filter(f.Prop, f.Op, f.Value, f.On); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (h *Harness) assertQuery(ctx context.Context, a Assertion) (observed, error) {
	q, err := h.build(a)
	if err != nil {
		return observed{}, err
	}
	rows, err := q.Fetch(ctx)
	if err != nil {
		return observed{}, err
	}
	target := q.Target()
	got := make([]string, len(rows))
	for i, row := range rows {
		got[i] = propval.String(row[target.Label][target.Identity])
	}
	out := observed{value: got}
	if !slices.Equal(got, a.Expect) {
		out.mismatch = fmt.Sprintf("expected %v, got %v", a.Expect, got)
	}
	return out, nil
}

func (h *Harness) assertCount(ctx context.Context, a Assertion) (observed, error) {
	q, err := h.build(a)
	if err != nil {
		return observed{}, err
	}
	n, err := q.Count(ctx)
	if err != nil {
		return observed{}, err
	}
	out := observed{value: n}
	if n != *a.Count {
		out.mismatch = fmt.Sprintf("expected %d rows, got %d", *a.Count, n)
	}
	return out, nil
}

func (h *Harness) assertTimes(ctx context.Context, a Assertion) (observed, error) {
	times, err := query.Times(ctx, h.reg, h.graph, a.Label, a.ID)
	if err != nil {
		return observed{}, err
	}
	out := observed{value: times}
	if a.Times != nil && !slices.Equal(times, a.Times) {
		out.mismatch = fmt.Sprintf("expected %v, got %v", a.Times, times)
	}
	return out, nil
}

func (h *Harness) assertDiff(ctx context.Context, a Assertion) (observed, error) {
	res, err := diff.Compute(ctx, h.reg, h.graph, a.Label, a.ID, a.Left, a.Right, diff.Options{Logger: h.logger})
	if err != nil {
		return observed{}, err
	}
	got := res.Identities()
	out := observed{value: res.Frame}
	if !slices.Equal(got, a.Expect) {
		out.mismatch = fmt.Sprintf("expected nodes %v, got %v", a.Expect, got)
	}
	return out, nil
}

// assertState compares only the asserted keys. A property missing at the
// instant observes as null.
func (h *Harness) assertState(ctx context.Context, a Assertion) (observed, error) {
	q, err := h.build(a)
	if err != nil {
		return observed{}, err
	}
	rows, err := q.Identity(a.ID).Fetch(ctx)
	if err != nil {
		return observed{}, err
	}
	if len(rows) == 0 {
		return observed{}, fmt.Errorf("%s %s does not exist at %d", a.Label, a.ID, a.At)
	}
	props := rows[0][a.Label]

	want, err := propval.NormalizeMap(a.Props)
	if err != nil {
		return observed{}, err
	}
	keys := make([]string, 0, len(a.Props))
	for k := range a.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	got := make(map[string]any, len(keys))
	var mismatch []string
	for _, k := range keys {
		got[k] = props[k]
		if !propval.Equal(want[k], props[k]) {
			mismatch = append(mismatch, fmt.Sprintf("%s: expected %v, got %v", k, a.Props[k], props[k]))
		}
	}
	out := observed{value: got}
	if len(mismatch) > 0 {
		out.mismatch = fmt.Sprint(mismatch)
	}
	return out, nil
}
