// Package cypher renders graphir queries to parameterized Cypher.
//
// Every literal is passed as a parameter; labels, relationship types and
// property names come from the registry and are validated as identifiers
// by graphir before rendering.
package cypher

import (
	"fmt"
	"strings"

	"github.com/roach88/snitch/internal/graphir"
)

// Render compiles q to Cypher and its parameters.
func Render(q graphir.Query) (string, map[string]any, error) {
	switch query := q.(type) {
	case graphir.Traversal:
		return renderTraversal(query)
	case *graphir.Traversal:
		return renderTraversal(*query)
	case graphir.Times:
		return renderTimes(query)
	case *graphir.Times:
		return renderTimes(*query)
	case nil:
		return "", nil, fmt.Errorf("cannot render nil query")
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

type renderer struct {
	params map[string]any
	times  map[int64]string
}

func (r *renderer) param(v any) string {
	name := fmt.Sprintf("p%d", len(r.params))
	r.params[name] = v
	return "$" + name
}

// timeParam shares one parameter per distinct instant.
func (r *renderer) timeParam(at int64) string {
	if name, ok := r.times[at]; ok {
		return name
	}
	name := fmt.Sprintf("t%d", len(r.times))
	r.params[name] = at
	r.times[at] = "$" + name
	return "$" + name
}

func renderTraversal(q graphir.Traversal) (string, map[string]any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	r := &renderer{params: map[string]any{}, times: map[int64]string{}}

	var b strings.Builder
	b.WriteString("MATCH ")
	for i, s := range q.Steps {
		if i > 0 {
			fmt.Fprintf(&b, "-[%s:%s]->", s.RelVar, s.Rel)
		}
		fmt.Fprintf(&b, "(%s:%s)", s.Var, s.Label)
	}
	for _, s := range q.Steps {
		if s.State != nil {
			fmt.Fprintf(&b, "\nMATCH (%s)-[%s:HAS_STATE]->(%s:%s)", s.Var, s.State.RelVar, s.State.Var, s.State.Label)
		}
	}

	if q.Where != nil {
		where, err := r.predicate(q.Where)
		if err != nil {
			return "", nil, err
		}
		if where != "" {
			b.WriteString("\nWHERE ")
			b.WriteString(where)
		}
	}

	if q.Count {
		b.WriteString("\nRETURN count(*) AS count")
		return b.String(), r.params, nil
	}

	b.WriteString("\nRETURN ")
	b.WriteString(strings.Join(q.Returns(), ", "))

	if len(q.Order) > 0 {
		keys := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys[i] = fmt.Sprintf("%s.%s %s", o.Ref.Var, o.Ref.Prop, dir)
		}
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(keys, ", "))
	}
	if q.Skip > 0 {
		fmt.Fprintf(&b, "\nSKIP %s", r.param(int64(q.Skip)))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %s", r.param(int64(q.Limit)))
	}
	return b.String(), r.params, nil
}

func (r *renderer) predicate(p graphir.Predicate) (string, error) {
	switch pred := p.(type) {
	case graphir.Compare:
		return fmt.Sprintf("%s.%s %s %s", pred.Ref.Var, pred.Ref.Prop, pred.Op, r.param(pred.Value)), nil
	case graphir.During:
		t := r.timeParam(pred.At)
		return fmt.Sprintf("%s.from <= %s AND %s < %s.to", pred.Var, t, t, pred.Var), nil
	case graphir.And:
		parts := make([]string, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			s, err := r.predicate(sub)
			if err != nil {
				return "", err
			}
			if s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " AND "), nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func renderTimes(q graphir.Times) (string, map[string]any, error) {
	if q.Label == "" || q.Identity == "" {
		return "", nil, fmt.Errorf("times query needs a label and identity property")
	}
	cypher := fmt.Sprintf(
		"MATCH p = (n:%s {%s: $identity})-[*]->()\n"+
			"UNWIND relationships(p) AS r\n"+
			"RETURN DISTINCT r.from AS t\n"+
			"ORDER BY t DESC",
		q.Label, q.Identity)
	return cypher, map[string]any{"identity": q.Value}, nil
}
