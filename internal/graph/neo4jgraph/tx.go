package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/roach88/snitch/internal/cypher"
	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
	"github.com/roach88/snitch/internal/propval"
)

// runner matches ExplicitTransaction.Run and ManagedTransaction.Run.
type runner func(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)

// Tx is a graph.Tx over one explicit Neo4j transaction.
type Tx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

var _ graph.Tx = (*Tx)(nil)

func (t *Tx) Commit(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.tx.Rollback(ctx)
}

func (t *Tx) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func (t *Tx) exec(ctx context.Context, query string, params map[string]any) error {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func matchNode(v string, k graph.Key) (string, error) {
	if err := checkNames(k.Label, k.Property); err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s:%s {%s: $%s_identity})", v, k.Label, k.Property, v), nil
}

func (t *Tx) Node(ctx context.Context, k graph.Key) (map[string]any, bool, error) {
	m, err := matchNode("n", k)
	if err != nil {
		return nil, false, err
	}
	records, err := t.collect(ctx, "MATCH "+m+" RETURN n LIMIT 1", map[string]any{"n_identity": k.Identity})
	if err != nil {
		return nil, false, fmt.Errorf("read node %s(%s): %w", k.Label, k.Identity, err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	props, err := nodeProps(records[0], "n")
	return props, err == nil, err
}

func (t *Tx) CreateNode(ctx context.Context, k graph.Key, props map[string]any) error {
	if err := checkNames(k.Label, k.Property); err != nil {
		return err
	}
	set := make(map[string]any, len(props)+1)
	for name, v := range props {
		if v != nil {
			set[name] = v
		}
	}
	set[k.Property] = k.Identity
	query := fmt.Sprintf("CREATE (n:%s) SET n = $props", k.Label)
	if err := t.exec(ctx, query, map[string]any{"props": set}); err != nil {
		return fmt.Errorf("create node %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) SetNode(ctx context.Context, k graph.Key, props map[string]any) error {
	m, err := matchNode("n", k)
	if err != nil {
		return err
	}
	set := make(map[string]any, len(props))
	for name, v := range props {
		if v != nil {
			set[name] = v
		}
	}
	if err := t.exec(ctx, "MATCH "+m+" SET n += $props", map[string]any{"n_identity": k.Identity, "props": set}); err != nil {
		return fmt.Errorf("set node %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

// LockNode takes the node's write lock by writing and removing a marker
// property.
func (t *Tx) LockNode(ctx context.Context, k graph.Key) error {
	m, err := matchNode("n", k)
	if err != nil {
		return err
	}
	if err := t.exec(ctx, "MATCH "+m+" SET n._lock = true REMOVE n._lock", map[string]any{"n_identity": k.Identity}); err != nil {
		return fmt.Errorf("lock node %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) CurrentState(ctx context.Context, k graph.Key) (graph.State, bool, error) {
	m, err := matchNode("n", k)
	if err != nil {
		return graph.State{}, false, err
	}
	query := "MATCH " + m + "-[r:HAS_STATE {to: $eot}]->(s) RETURN r.from AS from, s LIMIT 1"
	records, err := t.collect(ctx, query, map[string]any{"n_identity": k.Identity, "eot": graph.EndOfTime})
	if err != nil {
		return graph.State{}, false, fmt.Errorf("read state %s(%s): %w", k.Label, k.Identity, err)
	}
	if len(records) == 0 {
		return graph.State{}, false, nil
	}
	from, _ := records[0].Get("from")
	fromMs, ok := from.(int64)
	if !ok {
		return graph.State{}, false, fmt.Errorf("read state %s(%s): from is %T", k.Label, k.Identity, from)
	}
	props, err := nodeProps(records[0], "s")
	if err != nil {
		return graph.State{}, false, err
	}
	return graph.State{From: fromMs, Props: props}, true, nil
}

func (t *Tx) CloseState(ctx context.Context, k graph.Key, at int64) error {
	m, err := matchNode("n", k)
	if err != nil {
		return err
	}
	query := "MATCH " + m + "-[r:HAS_STATE {to: $eot}]->() SET r.to = $at"
	if err := t.exec(ctx, query, map[string]any{"n_identity": k.Identity, "eot": graph.EndOfTime, "at": at}); err != nil {
		return fmt.Errorf("close state %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) ReplaceState(ctx context.Context, k graph.Key, props map[string]any) error {
	m, err := matchNode("n", k)
	if err != nil {
		return err
	}
	query := "MATCH " + m + "-[r:HAS_STATE {to: $eot}]->(s) SET s = $props"
	if err := t.exec(ctx, query, map[string]any{"n_identity": k.Identity, "eot": graph.EndOfTime, "props": props}); err != nil {
		return fmt.Errorf("replace state %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) OpenState(ctx context.Context, k graph.Key, stateLabel string, props map[string]any, from int64) error {
	m, err := matchNode("n", k)
	if err != nil {
		return err
	}
	if err := checkNames(stateLabel); err != nil {
		return err
	}
	query := fmt.Sprintf("MATCH %s CREATE (n)-[:HAS_STATE {from: $from, to: $eot}]->(s:%s) SET s = $props", m, stateLabel)
	params := map[string]any{"n_identity": k.Identity, "from": from, "eot": graph.EndOfTime, "props": props}
	if err := t.exec(ctx, query, params); err != nil {
		return fmt.Errorf("open state %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func edgePattern(src graph.Key, rel string, dst graph.Key, withDst bool) (string, error) {
	if err := checkNames(src.Label, src.Property, rel, dst.Label, dst.Property); err != nil {
		return "", err
	}
	d := fmt.Sprintf("(d:%s)", dst.Label)
	if withDst {
		d = fmt.Sprintf("(d:%s {%s: $d_identity})", dst.Label, dst.Property)
	}
	return fmt.Sprintf("(s:%s {%s: $s_identity})-[r:%s {to: $eot}]->%s", src.Label, src.Property, rel, d), nil
}

func (t *Tx) OpenEdges(ctx context.Context, src graph.Key, rel string, dst graph.Key) ([]graph.OpenEdge, error) {
	p, err := edgePattern(src, rel, dst, false)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("MATCH %s RETURN d.%s AS identity, r.from AS from ORDER BY identity", p, dst.Property)
	records, err := t.collect(ctx, query, map[string]any{"s_identity": src.Identity, "eot": graph.EndOfTime})
	if err != nil {
		return nil, fmt.Errorf("read edges %s(%s)-%s: %w", src.Label, src.Identity, rel, err)
	}
	out := make([]graph.OpenEdge, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get("identity")
		from, _ := rec.Get("from")
		ms, _ := from.(int64)
		out = append(out, graph.OpenEdge{Identity: propval.String(id), From: ms})
	}
	return out, nil
}

func (t *Tx) CloseEdge(ctx context.Context, src graph.Key, rel string, dst graph.Key, at int64) error {
	p, err := edgePattern(src, rel, dst, true)
	if err != nil {
		return err
	}
	params := map[string]any{"s_identity": src.Identity, "d_identity": dst.Identity, "eot": graph.EndOfTime, "at": at}
	if err := t.exec(ctx, "MATCH "+p+" SET r.to = $at", params); err != nil {
		return fmt.Errorf("close edge %s(%s)-%s->%s(%s): %w", src.Label, src.Identity, rel, dst.Label, dst.Identity, err)
	}
	return nil
}

func (t *Tx) DeleteEdge(ctx context.Context, src graph.Key, rel string, dst graph.Key) error {
	p, err := edgePattern(src, rel, dst, true)
	if err != nil {
		return err
	}
	params := map[string]any{"s_identity": src.Identity, "d_identity": dst.Identity, "eot": graph.EndOfTime}
	if err := t.exec(ctx, "MATCH "+p+" DELETE r", params); err != nil {
		return fmt.Errorf("delete edge %s(%s)-%s->%s(%s): %w", src.Label, src.Identity, rel, dst.Label, dst.Identity, err)
	}
	return nil
}

func (t *Tx) OpenEdge(ctx context.Context, src graph.Key, rel string, dst graph.Key, from int64) error {
	if err := checkNames(src.Label, src.Property, rel, dst.Label, dst.Property); err != nil {
		return err
	}
	query := fmt.Sprintf(
		"MATCH (s:%s {%s: $s_identity}) MATCH (d:%s {%s: $d_identity}) CREATE (s)-[:%s {from: $from, to: $eot}]->(d)",
		src.Label, src.Property, dst.Label, dst.Property, rel)
	params := map[string]any{"s_identity": src.Identity, "d_identity": dst.Identity, "from": from, "eot": graph.EndOfTime}
	if err := t.exec(ctx, query, params); err != nil {
		return fmt.Errorf("open edge %s(%s)-%s->%s(%s): %w", src.Label, src.Identity, rel, dst.Label, dst.Identity, err)
	}
	return nil
}

func (t *Tx) Query(ctx context.Context, q graphir.Traversal) ([]graph.Row, error) {
	return queryRows(ctx, t.tx.Run, q)
}

func (t *Tx) Count(ctx context.Context, q graphir.Traversal) (int64, error) {
	return countRows(ctx, t.tx.Run, q)
}

func (t *Tx) Times(ctx context.Context, q graphir.Times) ([]int64, error) {
	return queryTimes(ctx, t.tx.Run, q)
}

func queryRows(ctx context.Context, run runner, q graphir.Traversal) ([]graph.Row, error) {
	q.Count = false
	query, params, err := cypher.Render(q)
	if err != nil {
		return nil, err
	}
	res, err := run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out := make([]graph.Row, 0, len(records))
	for _, rec := range records {
		row, err := recordToRow(rec, q)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func countRows(ctx context.Context, run runner, q graphir.Traversal) (int64, error) {
	q.Count = true
	query, params, err := cypher.Render(q)
	if err != nil {
		return 0, err
	}
	res, err := run(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	v, _ := records[0].Get("count")
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("count: unexpected %T", v)
	}
	return n, nil
}

func queryTimes(ctx context.Context, run runner, q graphir.Times) ([]int64, error) {
	if err := checkNames(q.Label, q.Identity); err != nil {
		return nil, err
	}
	query, params, err := cypher.Render(q)
	if err != nil {
		return nil, err
	}
	res, err := run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("times: %w", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("times: %w", err)
	}
	out := make([]int64, 0, len(records))
	for _, rec := range records {
		v, _ := rec.Get("t")
		if ms, ok := v.(int64); ok {
			out = append(out, ms)
		}
	}
	return out, nil
}

// recordToRow merges each step's node and state properties under its label.
func recordToRow(rec *neo4j.Record, q graphir.Traversal) (graph.Row, error) {
	row := graph.Row{}
	for _, s := range q.Steps {
		props, err := nodeProps(rec, s.Var)
		if err != nil {
			return nil, err
		}
		if s.State != nil {
			state, err := nodeProps(rec, s.State.Var)
			if err != nil {
				return nil, err
			}
			for k, v := range state {
				props[k] = v
			}
		}
		row[s.Label] = props
	}
	return row, nil
}

func nodeProps(rec *neo4j.Record, key string) (map[string]any, error) {
	v, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("record has no %q", key)
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("%q is %T, not a node", key, v)
	}
	return propval.NormalizeMap(node.Props)
}
