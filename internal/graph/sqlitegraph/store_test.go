package sqlitegraph

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func withTx(t *testing.T, s *Store, fn func(tx graph.Tx)) {
	t.Helper()
	err := graph.InTx(context.Background(), s, func(tx graph.Tx) error {
		fn(tx)
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

var (
	envKey  = graph.Key{Label: "Environment", Property: "account_number_name", Identity: "1-prod"}
	hostKey = graph.Key{Label: "Host", Property: "hostname_environment", Identity: "web1-1-prod"}
)

func TestOpen_Pragmas(t *testing.T) {
	s := openTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"user_version": "2",
	}
	for name, want := range checks {
		if err := s.verifyPragma(name, want); err != nil {
			t.Errorf("pragma check: %v", err)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d failed: %v", i, err)
		}
		s.Close(context.Background())
	}
}

func TestNode_CreateAndSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	withTx(t, s, func(tx graph.Tx) {
		if err := tx.CreateNode(ctx, hostKey, map[string]any{"hostname": "web1", "created_at": int64(10)}); err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
		if err := tx.SetNode(ctx, hostKey, map[string]any{"environment": "1-prod", "hostname": nil}); err != nil {
			t.Fatalf("SetNode: %v", err)
		}
		props, ok, err := tx.Node(ctx, hostKey)
		if err != nil || !ok {
			t.Fatalf("Node: ok=%v err=%v", ok, err)
		}
		if props["hostname"] != "web1" || props["environment"] != "1-prod" || props["created_at"] != int64(10) {
			t.Errorf("unexpected props: %v", props)
		}
		if props["hostname_environment"] != "web1-1-prod" {
			t.Errorf("identity property missing: %v", props)
		}
	})
}

func TestNode_Missing(t *testing.T) {
	s := openTestStore(t)
	withTx(t, s, func(tx graph.Tx) {
		_, ok, err := tx.Node(context.Background(), hostKey)
		if err != nil {
			t.Fatalf("Node: %v", err)
		}
		if ok {
			t.Error("expected missing node")
		}
	})
}

func TestState_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	withTx(t, s, func(tx graph.Tx) {
		if err := tx.CreateNode(ctx, hostKey, nil); err != nil {
			t.Fatal(err)
		}
		if err := tx.OpenState(ctx, hostKey, "HostState", map[string]any{"kernel": "5.4"}, 100); err != nil {
			t.Fatal(err)
		}
		st, ok, err := tx.CurrentState(ctx, hostKey)
		if err != nil || !ok {
			t.Fatalf("CurrentState: ok=%v err=%v", ok, err)
		}
		if st.From != 100 || st.Props["kernel"] != "5.4" {
			t.Errorf("unexpected state: %+v", st)
		}
		if err := tx.CloseState(ctx, hostKey, 200); err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := tx.CurrentState(ctx, hostKey); ok {
			t.Error("state should be closed")
		}
		if err := tx.OpenState(ctx, hostKey, "HostState", map[string]any{"kernel": "5.10"}, 200); err != nil {
			t.Fatal(err)
		}
		if err := tx.ReplaceState(ctx, hostKey, map[string]any{"kernel": "5.11"}); err != nil {
			t.Fatal(err)
		}
		st, _, _ = tx.CurrentState(ctx, hostKey)
		if st.Props["kernel"] != "5.11" || st.From != 200 {
			t.Errorf("unexpected replaced state: %+v", st)
		}
	})
}

func TestState_OneOpenPerNode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := graph.InTx(ctx, s, func(tx graph.Tx) error {
		if err := tx.CreateNode(ctx, hostKey, nil); err != nil {
			return err
		}
		if err := tx.OpenState(ctx, hostKey, "HostState", map[string]any{"kernel": "a"}, 1); err != nil {
			return err
		}
		return tx.OpenState(ctx, hostKey, "HostState", map[string]any{"kernel": "b"}, 2)
	})
	if err == nil {
		t.Fatal("expected unique violation for second open state")
	}
}

func TestEdges_OpenClose(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pkg := func(id string) graph.Key {
		return graph.Key{Label: "AptPackage", Property: "name_version", Identity: id}
	}

	withTx(t, s, func(tx graph.Tx) {
		if err := tx.CreateNode(ctx, hostKey, nil); err != nil {
			t.Fatal(err)
		}
		for _, id := range []string{"b-1", "a-1"} {
			if err := tx.CreateNode(ctx, pkg(id), nil); err != nil {
				t.Fatal(err)
			}
			if err := tx.OpenEdge(ctx, hostKey, "HAS_APT_PACKAGE", pkg(id), 10); err != nil {
				t.Fatal(err)
			}
		}
		open, err := tx.OpenEdges(ctx, hostKey, "HAS_APT_PACKAGE", graph.Key{Label: "AptPackage"})
		if err != nil {
			t.Fatal(err)
		}
		if len(open) != 2 || open[0] != (graph.OpenEdge{Identity: "a-1", From: 10}) || open[1].Identity != "b-1" {
			t.Errorf("unexpected open edges: %v", open)
		}
		if err := tx.CloseEdge(ctx, hostKey, "HAS_APT_PACKAGE", pkg("a-1"), 20); err != nil {
			t.Fatal(err)
		}
		open, _ = tx.OpenEdges(ctx, hostKey, "HAS_APT_PACKAGE", graph.Key{Label: "AptPackage"})
		if len(open) != 1 || open[0].Identity != "b-1" {
			t.Errorf("unexpected open edges after close: %v", open)
		}
	})

	times, err := s.Times(ctx, graphir.Times{Label: "Host", Identity: "hostname_environment", Value: hostKey.Identity})
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 1 || times[0] != 10 {
		t.Errorf("unexpected times: %v", times)
	}
}

func TestEdges_CloseAtOpenInstantFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pkg := graph.Key{Label: "AptPackage", Property: "name_version", Identity: "a-1"}

	withTx(t, s, func(tx graph.Tx) {
		for _, k := range []graph.Key{hostKey, pkg} {
			if err := tx.CreateNode(ctx, k, nil); err != nil {
				t.Fatal(err)
			}
		}
		if err := tx.OpenEdge(ctx, hostKey, "HAS_APT_PACKAGE", pkg, 10); err != nil {
			t.Fatal(err)
		}
	})

	err := graph.InTx(ctx, s, func(tx graph.Tx) error {
		return tx.CloseEdge(ctx, hostKey, "HAS_APT_PACKAGE", pkg, 10)
	})
	if err == nil {
		t.Fatal("expected closing an edge at its opening instant to fail")
	}

	withTx(t, s, func(tx graph.Tx) {
		if err := tx.DeleteEdge(ctx, hostKey, "HAS_APT_PACKAGE", pkg); err != nil {
			t.Fatal(err)
		}
		open, err := tx.OpenEdges(ctx, hostKey, "HAS_APT_PACKAGE", graph.Key{Label: "AptPackage"})
		if err != nil {
			t.Fatal(err)
		}
		if len(open) != 0 {
			t.Errorf("unexpected open edges after delete: %v", open)
		}
	})
}

func TestMigrateToV2_GuardsExistingEdgesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE nodes (label TEXT NOT NULL, identity TEXT NOT NULL, props TEXT NOT NULL, PRIMARY KEY (label, identity)) WITHOUT ROWID`,
		`CREATE TABLE edges (id INTEGER PRIMARY KEY AUTOINCREMENT, rel TEXT NOT NULL,
			src_label TEXT NOT NULL, src_identity TEXT NOT NULL,
			dst_label TEXT NOT NULL, dst_identity TEXT NOT NULL,
			from_ms INTEGER NOT NULL, to_ms INTEGER NOT NULL)`,
		`INSERT INTO nodes VALUES ('Host', 'h', '{}'), ('AptPackage', 'p', '{}')`,
		`PRAGMA user_version = 1`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })

	_, err = s.DB().Exec(
		`INSERT INTO edges (rel, src_label, src_identity, dst_label, dst_identity, from_ms, to_ms)
		VALUES ('HAS_APT_PACKAGE', 'Host', 'h', 'AptPackage', 'p', 20, 20)`)
	if err == nil || !strings.Contains(err.Error(), "edge interval must be non-empty") {
		t.Errorf("expected interval trigger to reject the row, got %v", err)
	}
	if err := s.verifyPragma("user_version", "2"); err != nil {
		t.Error(err)
	}
}

func TestQuery_RowsMergedByLabel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	withTx(t, s, func(tx graph.Tx) {
		if err := tx.CreateNode(ctx, envKey, map[string]any{"name": "prod"}); err != nil {
			t.Fatal(err)
		}
		if err := tx.CreateNode(ctx, hostKey, map[string]any{"hostname": "web1"}); err != nil {
			t.Fatal(err)
		}
		if err := tx.OpenEdge(ctx, envKey, "HAS_HOST", hostKey, 100); err != nil {
			t.Fatal(err)
		}
		if err := tx.OpenState(ctx, hostKey, "HostState", map[string]any{"kernel": "5.4"}, 100); err != nil {
			t.Fatal(err)
		}
	})

	q := graphir.Traversal{
		Steps: []graphir.Step{
			{Var: "environment", Label: "Environment", Identity: "account_number_name"},
			{
				Var: "host", Label: "Host", Identity: "hostname_environment", Rel: "HAS_HOST", RelVar: "r0",
				State: &graphir.StateStep{Var: "host_state", RelVar: "r_host_state", Label: "HostState"},
			},
		},
	}
	at := func(ms int64) graphir.Traversal {
		q.Where = graphir.And{Predicates: []graphir.Predicate{
			graphir.During{Var: "r0", At: ms},
			graphir.During{Var: "r_host_state", At: ms},
		}}
		return q
	}

	rows, err := s.Query(ctx, at(150))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	host := rows[0]["Host"]
	if host["hostname"] != "web1" || host["kernel"] != "5.4" {
		t.Errorf("unexpected host row: %v", host)
	}
	if rows[0]["Environment"]["name"] != "prod" {
		t.Errorf("unexpected environment row: %v", rows[0]["Environment"])
	}

	rows, err = s.Query(ctx, at(50))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows before creation, got %d", len(rows))
	}

	n, err := s.Count(ctx, at(150))
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if !IsTransient(sqlite3Busy()) {
		t.Error("SQLITE_BUSY should be transient")
	}
}
