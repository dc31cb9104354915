package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/snitch/internal/graph/sqlitegraph"
	"github.com/roach88/snitch/internal/schema"
)

// Registry returns the built-in fleet catalogue, failing the test on error.
func Registry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	return reg
}

// OpenGraph opens a SQLite graph in a temporary directory. It is closed
// when the test ends.
func OpenGraph(t testing.TB) *sqlitegraph.Store {
	t.Helper()
	g, err := sqlitegraph.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { g.Close(context.Background()) })
	return g
}

// RunDir writes a collection run named name under dataDir. descriptor is
// written as run_data.json; each files entry is written as JSON under its
// key. It returns the run directory.
func RunDir(t testing.TB, dataDir, name string, descriptor map[string]any, files map[string]any) string {
	t.Helper()
	dir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create run dir: %v", err)
	}
	writeJSON(t, filepath.Join(dir, "run_data.json"), descriptor)
	for file, v := range files {
		writeJSON(t, filepath.Join(dir, file), v)
	}
	return dir
}

// Descriptor returns a finished, unsynced run descriptor.
func Descriptor(account, env, completed string) map[string]any {
	return map[string]any{
		"status":    "finished",
		"completed": completed,
		"environment": map[string]any{
			"account_number": account,
			"name":           env,
		},
	}
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
