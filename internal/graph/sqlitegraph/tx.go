package sqlitegraph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
	"github.com/roach88/snitch/internal/graphsql"
	"github.com/roach88/snitch/internal/propval"
)

// Tx is a graph.Tx over one SQLite transaction.
type Tx struct {
	tx *sql.Tx
}

var _ graph.Tx = (*Tx)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (t *Tx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

func (t *Tx) Node(ctx context.Context, k graph.Key) (map[string]any, bool, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx,
		`SELECT props FROM nodes WHERE label = ? AND identity = ?`,
		k.Label, k.Identity).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read node %s(%s): %w", k.Label, k.Identity, err)
	}
	props, err := propval.DecodeProps([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return props, true, nil
}

func (t *Tx) CreateNode(ctx context.Context, k graph.Key, props map[string]any) error {
	withID := copyProps(props)
	withID[k.Property] = k.Identity
	raw, err := propval.EncodeProps(withID)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO nodes (label, identity, props) VALUES (?, ?, ?)`,
		k.Label, k.Identity, string(raw))
	if err != nil {
		return fmt.Errorf("create node %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) SetNode(ctx context.Context, k graph.Key, props map[string]any) error {
	current, ok, err := t.Node(ctx, k)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set node %s(%s): not found", k.Label, k.Identity)
	}
	for name, v := range props {
		if v == nil {
			continue
		}
		current[name] = v
	}
	raw, err := propval.EncodeProps(current)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE nodes SET props = ? WHERE label = ? AND identity = ?`,
		string(raw), k.Label, k.Identity)
	if err != nil {
		return fmt.Errorf("set node %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

// LockNode is a no-op: transactions are opened with BEGIN IMMEDIATE and
// already hold the database write lock.
func (t *Tx) LockNode(context.Context, graph.Key) error {
	return nil
}

func (t *Tx) CurrentState(ctx context.Context, k graph.Key) (graph.State, bool, error) {
	var (
		from int64
		raw  string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT from_ms, props FROM states WHERE label = ? AND identity = ? AND to_ms = ?`,
		k.Label, k.Identity, graph.EndOfTime).Scan(&from, &raw)
	if err == sql.ErrNoRows {
		return graph.State{}, false, nil
	}
	if err != nil {
		return graph.State{}, false, fmt.Errorf("read state %s(%s): %w", k.Label, k.Identity, err)
	}
	props, err := propval.DecodeProps([]byte(raw))
	if err != nil {
		return graph.State{}, false, err
	}
	return graph.State{From: from, Props: props}, true, nil
}

func (t *Tx) CloseState(ctx context.Context, k graph.Key, at int64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE states SET to_ms = ? WHERE label = ? AND identity = ? AND to_ms = ?`,
		at, k.Label, k.Identity, graph.EndOfTime)
	if err != nil {
		return fmt.Errorf("close state %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) ReplaceState(ctx context.Context, k graph.Key, props map[string]any) error {
	raw, err := propval.EncodeProps(props)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE states SET props = ? WHERE label = ? AND identity = ? AND to_ms = ?`,
		string(raw), k.Label, k.Identity, graph.EndOfTime)
	if err != nil {
		return fmt.Errorf("replace state %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) OpenState(ctx context.Context, k graph.Key, stateLabel string, props map[string]any, from int64) error {
	raw, err := propval.EncodeProps(props)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO states (label, identity, state_label, props, from_ms, to_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		k.Label, k.Identity, stateLabel, string(raw), from, graph.EndOfTime)
	if err != nil {
		return fmt.Errorf("open state %s(%s): %w", k.Label, k.Identity, err)
	}
	return nil
}

func (t *Tx) OpenEdges(ctx context.Context, src graph.Key, rel string, dst graph.Key) ([]graph.OpenEdge, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT dst_identity, from_ms FROM edges
		WHERE src_label = ? AND src_identity = ? AND rel = ? AND dst_label = ? AND to_ms = ?
		ORDER BY dst_identity ASC`,
		src.Label, src.Identity, rel, dst.Label, graph.EndOfTime)
	if err != nil {
		return nil, fmt.Errorf("read edges %s(%s)-%s: %w", src.Label, src.Identity, rel, err)
	}
	defer rows.Close()

	var out []graph.OpenEdge
	for rows.Next() {
		var e graph.OpenEdge
		if err := rows.Scan(&e.Identity, &e.From); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *Tx) CloseEdge(ctx context.Context, src graph.Key, rel string, dst graph.Key, at int64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE edges SET to_ms = ?
		WHERE src_label = ? AND src_identity = ? AND rel = ? AND dst_label = ? AND dst_identity = ? AND to_ms = ?`,
		at, src.Label, src.Identity, rel, dst.Label, dst.Identity, graph.EndOfTime)
	if err != nil {
		return fmt.Errorf("close edge %s(%s)-%s->%s(%s): %w", src.Label, src.Identity, rel, dst.Label, dst.Identity, err)
	}
	return nil
}

func (t *Tx) DeleteEdge(ctx context.Context, src graph.Key, rel string, dst graph.Key) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM edges
		WHERE src_label = ? AND src_identity = ? AND rel = ? AND dst_label = ? AND dst_identity = ? AND to_ms = ?`,
		src.Label, src.Identity, rel, dst.Label, dst.Identity, graph.EndOfTime)
	if err != nil {
		return fmt.Errorf("delete edge %s(%s)-%s->%s(%s): %w", src.Label, src.Identity, rel, dst.Label, dst.Identity, err)
	}
	return nil
}

func (t *Tx) OpenEdge(ctx context.Context, src graph.Key, rel string, dst graph.Key, from int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO edges (rel, src_label, src_identity, dst_label, dst_identity, from_ms, to_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel, src.Label, src.Identity, dst.Label, dst.Identity, from, graph.EndOfTime)
	if err != nil {
		return fmt.Errorf("open edge %s(%s)-%s->%s(%s): %w", src.Label, src.Identity, rel, dst.Label, dst.Identity, err)
	}
	return nil
}

func (t *Tx) Query(ctx context.Context, q graphir.Traversal) ([]graph.Row, error) {
	return queryRows(ctx, t.tx, q)
}

func (t *Tx) Count(ctx context.Context, q graphir.Traversal) (int64, error) {
	return countRows(ctx, t.tx, q)
}

func (t *Tx) Times(ctx context.Context, q graphir.Times) ([]int64, error) {
	return queryTimes(ctx, t.tx, q)
}

func queryRows(ctx context.Context, db querier, q graphir.Traversal) ([]graph.Row, error) {
	q.Count = false
	query, params, err := graphsql.Compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	// Column i belongs to label owners[i]; state columns share their step's label.
	var owners []string
	for _, s := range q.Steps {
		owners = append(owners, s.Label)
		if s.State != nil {
			owners = append(owners, s.Label)
		}
	}

	var out []graph.Row
	raw := make([]string, len(owners))
	dest := make([]any, len(owners))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := graph.Row{}
		for i, label := range owners {
			props, err := propval.DecodeProps([]byte(raw[i]))
			if err != nil {
				return nil, err
			}
			merged, ok := row[label]
			if !ok {
				merged = map[string]any{}
				row[label] = merged
			}
			for k, v := range props {
				merged[k] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func countRows(ctx context.Context, db querier, q graphir.Traversal) (int64, error) {
	q.Count = true
	query, params, err := graphsql.Compile(q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func queryTimes(ctx context.Context, db querier, q graphir.Times) ([]int64, error) {
	query, params, err := graphsql.Compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("times: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func copyProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
