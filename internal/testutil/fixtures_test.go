package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/graphir"
)

func TestRegistry_LoadsCatalogue(t *testing.T) {
	reg := Registry(t)
	_, ok := reg.Type("Host")
	assert.True(t, ok)
}

func TestOpenGraph_Empty(t *testing.T) {
	g := OpenGraph(t)
	n, err := g.Count(context.Background(), graphir.Traversal{
		Steps: []graphir.Step{{Var: "host", Label: "Host", Identity: "hostname_environment"}},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunDir_WritesDescriptor(t *testing.T) {
	dir := RunDir(t, t.TempDir(), "run-1", Descriptor("1", "prod", "2024-01-01T00:00:00"), map[string]any{
		"uservars.json": map[string]any{"data": map[string]any{}},
	})
	assert.FileExists(t, filepath.Join(dir, "run_data.json"))
	assert.FileExists(t, filepath.Join(dir, "uservars.json"))
}
