package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsFleetCatalogue(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"Environment", "EnvironmentLock", "EnvironmentSync"}, r.Roots())

	path, ok := r.PathTo("GitUrl")
	require.True(t, ok)
	assert.Equal(t, []PathStep{
		{Label: "Environment", Relationship: "HAS_GIT_REPO"},
		{Label: "GitRepo", Relationship: "HAS_GIT_REMOTE"},
		{Label: "GitRemote", Relationship: "HAS_GIT_URL"},
	}, path)

	host, ok := r.Type("Host")
	require.True(t, ok)
	assert.Equal(t, []string{"hostname", "environment"}, host.Concat)
	assert.True(t, host.IsState("kernel"))
	assert.Len(t, host.Children, 7)
	assert.Equal(t, "aptpackages", host.Children[0].Role)
}

func TestLoadCUE_RejectsMalformed(t *testing.T) {
	src := []byte(`
#Type: { identity: string }
types: [string]: #Type
types: { A: { identity: 3 } }
`)
	_, err := LoadCUE("bad.cue", src)
	assert.Error(t, err)
}

func TestNewFromCUE_DuplicateProperty(t *testing.T) {
	src := []byte(`
types: {
	A: {
		identity: "id"
		static: ["x"]
		state: ["x"]
	}
}
`)
	_, err := NewFromCUE("dup.cue", src)
	require.Error(t, err)
	assert.True(t, IsDuplicateProperty(err))
}

func TestNewFromCUE_Minimal(t *testing.T) {
	src := []byte(`
types: {
	Root: {
		identity: "id"
		children: { leaves: { rel: "HAS_LEAF", label: "Leaf" } }
	}
	Leaf: { identity: "id", state: ["v"] }
}
`)
	r, err := NewFromCUE("min.cue", src)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Root", "Leaf"}}, r.PathsFrom("Root"))
}
