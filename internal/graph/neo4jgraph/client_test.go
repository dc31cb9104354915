package neo4jgraph

import (
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
)

func TestCheckNames(t *testing.T) {
	assert.NoError(t, checkNames("Host", "hostname_environment", "HAS_HOST"))
	assert.Error(t, checkNames("Host) DETACH DELETE (n"))
	assert.Error(t, checkNames(""))
}

func TestEdgePattern(t *testing.T) {
	src := graph.Key{Label: "Host", Property: "hostname_environment"}
	dst := graph.Key{Label: "AptPackage", Property: "name_version"}

	p, err := edgePattern(src, "HAS_APT_PACKAGE", dst, true)
	require.NoError(t, err)
	assert.Equal(t, "(s:Host {hostname_environment: $s_identity})-[r:HAS_APT_PACKAGE {to: $eot}]->(d:AptPackage {name_version: $d_identity})", p)

	p, err = edgePattern(src, "HAS_APT_PACKAGE", dst, false)
	require.NoError(t, err)
	assert.Equal(t, "(s:Host {hostname_environment: $s_identity})-[r:HAS_APT_PACKAGE {to: $eot}]->(d:AptPackage)", p)
}

func TestRecordToRow(t *testing.T) {
	q := graphir.Traversal{
		Steps: []graphir.Step{
			{Var: "environment", Label: "Environment", Identity: "account_number_name"},
			{
				Var: "host", Label: "Host", Identity: "hostname_environment", Rel: "HAS_HOST", RelVar: "r0",
				State: &graphir.StateStep{Var: "host_state", RelVar: "r_host_state", Label: "HostState"},
			},
		},
	}
	rec := &neo4j.Record{
		Keys: []string{"environment", "host", "host_state"},
		Values: []any{
			neo4j.Node{Props: map[string]any{"account_number_name": "1-prod"}},
			neo4j.Node{Props: map[string]any{"hostname_environment": "web1-1-prod", "created_at": int64(5)}},
			neo4j.Node{Props: map[string]any{"kernel": "5.4", "memtotal_mb": int64(2048)}},
		},
	}

	row, err := recordToRow(rec, q)
	require.NoError(t, err)
	assert.Equal(t, "1-prod", row["Environment"]["account_number_name"])
	assert.Equal(t, map[string]any{
		"hostname_environment": "web1-1-prod",
		"created_at":           int64(5),
		"kernel":               "5.4",
		"memtotal_mb":          int64(2048),
	}, row["Host"])
}

func TestRecordToRow_MissingKey(t *testing.T) {
	q := graphir.Traversal{Steps: []graphir.Step{{Var: "gitUrl", Label: "GitUrl", Identity: "url"}}}
	_, err := recordToRow(&neo4j.Record{}, q)
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsTransient(nil))
	assert.False(t, c.IsTransient(errors.New("syntax error")))
	assert.True(t, c.IsTransient(&neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}))
}
