package graphsql

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/graphir"
)

func hostTraversal() graphir.Traversal {
	return graphir.Traversal{
		Steps: []graphir.Step{
			{Var: "environment", Label: "Environment", Identity: "account_number_name"},
			{
				Var: "host", Label: "Host", Identity: "hostname_environment",
				Rel: "HAS_HOST", RelVar: "r0",
				State: &graphir.StateStep{Var: "host_state", RelVar: "r_host_state", Label: "HostState"},
			},
		},
		Where: graphir.And{Predicates: []graphir.Predicate{
			graphir.Compare{Ref: graphir.Ref{Var: "host_state", Prop: "kernel"}, Op: graphir.OpStartsWith, Value: "5."},
			graphir.During{Var: "r0", At: 7},
			graphir.During{Var: "r_host_state", At: 7},
		}},
		Order: []graphir.Order{{Ref: graphir.Ref{Var: "host", Prop: "hostname_environment"}}},
		Limit: 5,
	}
}

func TestCompile_TraversalGolden(t *testing.T) {
	sql, params, err := Compile(hostTraversal())
	require.NoError(t, err)

	assert.Equal(t, []any{
		"HAS_HOST",
		"Environment", "Host",
		`$."kernel"`, "5.",
		int64(7), int64(7),
		int64(7), int64(7),
		`$."hostname_environment"`,
		int64(5), int64(0),
	}, params)

	g := goldie.New(t)
	g.Assert(t, "traversal", []byte(sql+"\n"))
}

func TestCompile_CountIgnoresOrderAndPaging(t *testing.T) {
	q := hostTraversal()
	q.Count = true
	q.Skip = 10

	sql, params, err := Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "SELECT COUNT(*)")
	assert.NotContains(t, sql, "ORDER BY")
	assert.NotContains(t, sql, "LIMIT")
	assert.Len(t, params, 9)
}

func TestCompile_SkipWithoutLimit(t *testing.T) {
	q := hostTraversal()
	q.Limit = 0
	q.Skip = 3

	sql, params, err := Compile(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT ? OFFSET ?")
	assert.Equal(t, []any{int64(-1), int64(3)}, params[len(params)-2:])
}

func TestCompile_StringOperators(t *testing.T) {
	tests := []struct {
		op   graphir.Operator
		want string
	}{
		{graphir.OpStartsWith, "instr(json_extract(host.props, ?), ?) = 1"},
		{graphir.OpContains, "instr(json_extract(host.props, ?), ?) > 0"},
		{graphir.OpEndsWith, "substr(json_extract(host.props, ?), ?) = ?"},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			q := graphir.Traversal{
				Steps: []graphir.Step{{Var: "host", Label: "Host", Identity: "id"}},
				Where: graphir.Compare{Ref: graphir.Ref{Var: "host", Prop: "fqdn"}, Op: tt.op, Value: "ab"},
			}
			sql, _, err := Compile(q)
			require.NoError(t, err)
			assert.Contains(t, sql, tt.want)
		})
	}
}

func TestCompile_StringOperatorNeedsString(t *testing.T) {
	q := graphir.Traversal{
		Steps: []graphir.Step{{Var: "host", Label: "Host", Identity: "id"}},
		Where: graphir.Compare{Ref: graphir.Ref{Var: "host", Prop: "mtu"}, Op: graphir.OpContains, Value: int64(3)},
	}
	_, _, err := Compile(q)
	assert.Error(t, err)
}

func TestCompile_Times(t *testing.T) {
	sql, params, err := Compile(graphir.Times{Label: "Environment", Identity: "account_number_name", Value: "1-a"})
	require.NoError(t, err)
	assert.Contains(t, sql, "WITH RECURSIVE reach")
	assert.Equal(t, []any{"Environment", "1-a"}, params)
}

func TestJSONPath(t *testing.T) {
	assert.Equal(t, `$."name_version"`, JSONPath("name_version"))
}
