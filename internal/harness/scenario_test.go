package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/package_upgrade.yaml")
	require.NoError(t, err)

	assert.Equal(t, "package_upgrade", s.Name)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, int64(1000), s.Steps[0].At)

	env := s.Steps[0].Entities[0]
	assert.Equal(t, "Environment", env.Type)
	assert.Equal(t, "1", env.Props["account_number"])
	require.Len(t, env.Children["hosts"], 1)
	assert.Equal(t, "5.4", env.Children["hosts"][0].Props["kernel"])

	require.Len(t, s.Assertions, 6)
	assert.Equal(t, AssertQuery, s.Assertions[0].Type)
	assert.Equal(t, "Host", s.Assertions[0].Filters[0].On)
	assert.Equal(t, []int64{2000, 1000}, s.Assertions[2].Times)
	require.NotNil(t, s.Assertions[5].Count)
	assert.Equal(t, int64(1), *s.Assertions[5].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: misspelled key
steps:
  - at: 1
    entities: [{type: Environment, props: {account_number: "1", name: prod}}]
assertion:
  - {type: count, label: Environment, count: 1}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	const steps = `
steps:
  - at: 1
    entities: [{type: Environment, props: {account_number: "1", name: prod}}]
`
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no name", "description: d" + steps + "assertions: [{type: count, label: Host, count: 0}]", "name is required"},
		{"no description", "name: n" + steps + "assertions: [{type: count, label: Host, count: 0}]", "description is required"},
		{"no steps", "name: n\ndescription: d\nassertions: [{type: count, label: Host, count: 0}]", "steps list is required"},
		{"no assertions", "name: n\ndescription: d" + steps, "assertions list is required"},
		{"empty step", "name: n\ndescription: d\nsteps: [{at: 1}]\nassertions: [{type: count, label: Host, count: 0}]", "steps[0]: entities list is required"},
		{"child without type", "name: n\ndescription: d\nsteps: [{at: 1, entities: [{type: Host, children: {aptpackages: [{props: {}}]}}]}]\nassertions: [{type: count, label: Host, count: 0}]", "steps[0].entities[0].children.aptpackages[0]: type is required"},
		{"unknown type", "name: n\ndescription: d" + steps + "assertions: [{type: bogus, label: Host}]", `unknown assertion type "bogus"`},
		{"no label", "name: n\ndescription: d" + steps + "assertions: [{type: count, count: 0}]", "label is required"},
		{"count without count", "name: n\ndescription: d" + steps + "assertions: [{type: count, label: Host}]", "count is required"},
		{"query without expect", "name: n\ndescription: d" + steps + "assertions: [{type: query, label: Host}]", "expect is required for query"},
		{"times without id", "name: n\ndescription: d" + steps + "assertions: [{type: times, label: Host}]", "id is required for times"},
		{"diff without expect", "name: n\ndescription: d" + steps + "assertions: [{type: diff, label: Host, id: h}]", "expect is required for diff"},
		{"state without props", "name: n\ndescription: d" + steps + "assertions: [{type: state, label: Host, id: h}]", "props is required for state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
