// Package graphsql compiles graphir queries to parameterized SQL over the
// SQLite graph tables (nodes, states, edges).
//
// Node and state properties live in a JSON column and are read with
// json_extract; the JSON path is itself a parameter. All values are
// parameterized, never interpolated. Aliases are graphir variable names,
// which graphir validates as identifiers.
package graphsql

import (
	"fmt"
	"strings"

	"github.com/roach88/snitch/internal/graphir"
)

// Compile converts q to SQL and its positional parameters.
func Compile(q graphir.Query) (string, []any, error) {
	switch query := q.(type) {
	case graphir.Traversal:
		return compileTraversal(query)
	case *graphir.Traversal:
		return compileTraversal(*query)
	case graphir.Times:
		return compileTimes(query)
	case *graphir.Times:
		return compileTimes(*query)
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query")
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// JSONPath returns the json_extract path addressing prop.
func JSONPath(prop string) string {
	return `$."` + prop + `"`
}

type compiler struct {
	// intervals maps a relationship variable to the alias holding from_ms
	// and to_ms. A HAS_STATE relationship is the states row itself.
	intervals map[string]string
}

func compileTraversal(q graphir.Traversal) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	c := &compiler{intervals: map[string]string{}}

	var b strings.Builder
	var params []any

	if q.Count {
		b.WriteString("SELECT COUNT(*)")
	} else {
		cols := make([]string, 0, len(q.Steps)*2)
		for _, v := range q.Returns() {
			cols = append(cols, v+".props")
		}
		b.WriteString("SELECT ")
		b.WriteString(strings.Join(cols, ", "))
	}

	var labelConds []string
	for i, s := range q.Steps {
		if i == 0 {
			fmt.Fprintf(&b, "\nFROM nodes AS %s", s.Var)
		} else {
			prev := q.Steps[i-1].Var
			fmt.Fprintf(&b, "\nJOIN edges AS %s ON %s.src_label = %s.label AND %s.src_identity = %s.identity AND %s.rel = ?",
				s.RelVar, s.RelVar, prev, s.RelVar, prev, s.RelVar)
			params = append(params, s.Rel)
			fmt.Fprintf(&b, "\nJOIN nodes AS %s ON %s.label = %s.dst_label AND %s.identity = %s.dst_identity",
				s.Var, s.Var, s.RelVar, s.Var, s.RelVar)
			c.intervals[s.RelVar] = s.RelVar
		}
		if s.State != nil {
			fmt.Fprintf(&b, "\nJOIN states AS %s ON %s.label = %s.label AND %s.identity = %s.identity",
				s.State.Var, s.State.Var, s.Var, s.State.Var, s.Var)
			c.intervals[s.State.RelVar] = s.State.Var
		}
		labelConds = append(labelConds, s.Var+".label = ?")
	}

	b.WriteString("\nWHERE ")
	b.WriteString(strings.Join(labelConds, " AND "))
	for _, s := range q.Steps {
		params = append(params, s.Label)
	}
	if q.Where != nil {
		where, whereParams, err := c.predicate(q.Where)
		if err != nil {
			return "", nil, err
		}
		if where != "" {
			b.WriteString(" AND ")
			b.WriteString(where)
			params = append(params, whereParams...)
		}
	}

	if q.Count {
		return b.String(), params, nil
	}

	if len(q.Order) > 0 {
		keys := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys[i] = fmt.Sprintf("json_extract(%s.props, ?) %s", o.Ref.Var, dir)
			params = append(params, JSONPath(o.Ref.Prop))
		}
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(keys, ", "))
	}

	// SQLite requires LIMIT before OFFSET; -1 means unbounded.
	if q.Limit > 0 || q.Skip > 0 {
		limit := int64(-1)
		if q.Limit > 0 {
			limit = int64(q.Limit)
		}
		b.WriteString("\nLIMIT ? OFFSET ?")
		params = append(params, limit, int64(q.Skip))
	}
	return b.String(), params, nil
}

func (c *compiler) predicate(p graphir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case graphir.Compare:
		return c.compare(pred)
	case graphir.During:
		alias, ok := c.intervals[pred.Var]
		if !ok {
			return "", nil, fmt.Errorf("unknown relationship variable %q", pred.Var)
		}
		return fmt.Sprintf("%s.from_ms <= ? AND ? < %s.to_ms", alias, alias), []any{pred.At, pred.At}, nil
	case graphir.And:
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			s, ps, err := c.predicate(sub)
			if err != nil {
				return "", nil, err
			}
			if s != "" {
				parts = append(parts, s)
				params = append(params, ps...)
			}
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *compiler) compare(cmp graphir.Compare) (string, []any, error) {
	field := fmt.Sprintf("json_extract(%s.props, ?)", cmp.Ref.Var)
	path := JSONPath(cmp.Ref.Prop)

	switch cmp.Op {
	case graphir.OpEq, graphir.OpNe, graphir.OpLt, graphir.OpLe, graphir.OpGt, graphir.OpGe:
		return fmt.Sprintf("%s %s ?", field, cmp.Op), []any{path, cmp.Value}, nil
	}

	s, ok := cmp.Value.(string)
	if !ok {
		return "", nil, fmt.Errorf("operator %s needs a string value, got %T", cmp.Op, cmp.Value)
	}
	// instr and substr are case-sensitive, matching Cypher string operators.
	switch cmp.Op {
	case graphir.OpStartsWith:
		return fmt.Sprintf("instr(%s, ?) = 1", field), []any{path, s}, nil
	case graphir.OpContains:
		return fmt.Sprintf("instr(%s, ?) > 0", field), []any{path, s}, nil
	case graphir.OpEndsWith:
		if s == "" {
			return fmt.Sprintf("%s IS NOT NULL", field), []any{path}, nil
		}
		return fmt.Sprintf("substr(%s, ?) = ?", field), []any{path, int64(-len([]rune(s))), s}, nil
	}
	return "", nil, fmt.Errorf("unsupported operator %q", cmp.Op)
}

func compileTimes(q graphir.Times) (string, []any, error) {
	if q.Label == "" {
		return "", nil, fmt.Errorf("times query needs a label")
	}
	sql := `WITH RECURSIVE reach(label, identity) AS (
	SELECT ?, ?
	UNION
	SELECT e.dst_label, e.dst_identity FROM edges AS e
	JOIN reach AS r ON e.src_label = r.label AND e.src_identity = r.identity
)
SELECT DISTINCT t FROM (
	SELECT e.from_ms AS t FROM edges AS e
	JOIN reach AS r ON e.src_label = r.label AND e.src_identity = r.identity
	UNION
	SELECT s.from_ms AS t FROM states AS s
	JOIN reach AS r ON s.label = r.label AND s.identity = r.identity
)
ORDER BY t DESC`
	return sql, []any{q.Label, q.Value}, nil
}
