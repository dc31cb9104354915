package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/graph/sqlitegraph"
	"github.com/roach88/snitch/internal/graphir"
	"github.com/roach88/snitch/internal/retry"
	"github.com/roach88/snitch/internal/schema"
	"github.com/roach88/snitch/internal/testutil"
	"github.com/roach88/snitch/internal/versioned"
)

type fixture struct {
	g     *sqlitegraph.Store
	reg   *schema.Registry
	store *versioned.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := testutil.OpenGraph(t)
	reg := testutil.Registry(t)
	s := versioned.New(g, reg, versioned.WithRetry(retry.Policy{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}))
	return &fixture{g: g, reg: reg, store: s}
}

func (f *fixture) instance(t *testing.T, src entity.Source) entity.Instance {
	t.Helper()
	in, err := entity.FromSource(f.reg, src)
	require.NoError(t, err)
	return in
}

// ingest writes one snapshot of environment 1-prod with host web1.
func (f *fixture) ingest(t *testing.T, at int64, kernel string, pkgs ...fleet.AptPackage) {
	t.Helper()
	ctx := context.Background()

	env := f.instance(t, fleet.Environment{AccountNumber: "1", Name: "prod"})
	require.NoError(t, f.store.Update(ctx, env, at))
	h := f.instance(t, fleet.Host{Hostname: "web1", Environment: "1-prod", Kernel: kernel})
	hosts, err := f.store.Edges(env, "hosts")
	require.NoError(t, err)
	require.NoError(t, hosts.Sync(ctx, []entity.Instance{h}, at))

	children := make([]entity.Instance, len(pkgs))
	for i, p := range pkgs {
		children[i] = f.instance(t, p)
	}
	apt, err := f.store.Edges(h, "aptpackages")
	require.NoError(t, err)
	require.NoError(t, apt.Sync(ctx, children, at))
}

func (f *fixture) query(t *testing.T, label string) *Query {
	t.Helper()
	q, err := New(f.reg, f.g, label)
	require.NoError(t, err)
	return q
}

func pkg(name, version string) fleet.AptPackage {
	return fleet.AptPackage{Name: name, Version: version}
}

func TestNew_UnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.reg, f.g, "Toaster")
	assert.True(t, schema.IsUnknownType(err))
}

func TestBuild_Steps(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, "AptPackage").Time(500)

	tr := q.Build()
	require.NoError(t, tr.Validate())
	assert.Equal(t, []graphir.Step{
		{Var: "environment", Label: "Environment", Identity: "account_number_name"},
		{
			Var: "host", Label: "Host", Identity: "hostname_environment", Rel: "HAS_HOST", RelVar: "r0",
			State: &graphir.StateStep{Var: "host_state", RelVar: "r_host_state", Label: "HostState"},
		},
		{Var: "aptpackage", Label: "AptPackage", Identity: "name_version", Rel: "HAS_APT_PACKAGE", RelVar: "r1"},
	}, tr.Steps)

	assert.Equal(t, graphir.And{Predicates: []graphir.Predicate{
		graphir.Compare{Ref: graphir.Ref{Var: "environment", Prop: "created_at"}, Op: graphir.OpLe, Value: int64(500)},
		graphir.During{Var: "r0", At: 500},
		graphir.During{Var: "r_host_state", At: 500},
		graphir.During{Var: "r1", At: 500},
	}}, tr.Where)

	assert.Equal(t, []graphir.Order{
		{Ref: graphir.Ref{Var: "aptpackage", Prop: "name_version"}},
		{Ref: graphir.Ref{Var: "environment", Prop: "account_number_name"}},
		{Ref: graphir.Ref{Var: "host", Prop: "hostname_environment"}},
	}, tr.Order)
	assert.Equal(t, []string{"Environment", "Host", "AptPackage"}, q.Labels())
}

func TestFilter_Validation(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, "AptPackage")

	tests := []struct {
		name  string
		prop  string
		op    string
		value any
		on    string
		check func(error) bool
	}{
		{"unknown type", "name", "=", "x", "Toaster", schema.IsUnknownType},
		{"type off path", "path", "=", "x", "GitRepo", schema.IsInvalidTraversal},
		{"unknown property", "colour", "=", "x", "", schema.IsUnknownProperty},
		{"unknown ancestor property", "colour", "=", "x", "Host", schema.IsUnknownProperty},
		{"invalid operator", "name", "LIKE", "x", "", schema.IsInvalidOperator},
		{"string operator on number", "name", "CONTAINS", 3, "", schema.IsInvalidOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.Filter(tt.prop, tt.op, tt.value, tt.on)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestFilter_StatePropertyUsesStateNode(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, "AptPackage").Time(1)

	require.NoError(t, q.Filter("kernel", "starts with", "5.", "Host"))
	require.NoError(t, q.Filter("hostname", "=", "web1", "Host"))

	preds := q.Build().Where.(graphir.And).Predicates
	assert.Equal(t, graphir.Compare{Ref: graphir.Ref{Var: "host_state", Prop: "kernel"}, Op: graphir.OpStartsWith, Value: "5."}, preds[len(preds)-2])
	assert.Equal(t, graphir.Compare{Ref: graphir.Ref{Var: "host", Prop: "hostname"}, Op: graphir.OpEq, Value: "web1"}, preds[len(preds)-1])
}

func TestOrderBy(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, "Host")

	require.NoError(t, q.OrderBy("kernel", "desc", ""))
	require.NoError(t, q.OrderBy("name", "ASC", "Environment"))
	assert.True(t, schema.IsInvalidOperator(q.OrderBy("kernel", "sideways", "")))
	assert.True(t, schema.IsUnknownProperty(q.OrderBy("colour", "ASC", "")))

	assert.Equal(t, []graphir.Order{
		{Ref: graphir.Ref{Var: "host_state", Prop: "kernel"}, Desc: true},
		{Ref: graphir.Ref{Var: "environment", Prop: "name"}},
	}, q.Build().Order)
}

func TestPaging(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, "Host")

	q.Page(3, 10)
	assert.Equal(t, 20, q.Build().Skip)
	assert.Equal(t, 10, q.Build().Limit)

	q.Page(0, 10)
	assert.Equal(t, 0, q.Build().Skip)

	q.PageIndex(15, 10)
	assert.Equal(t, 14, q.Build().Skip)

	q.PageIndex(-4, 10)
	assert.Equal(t, 0, q.Build().Skip)
}

func TestFetch_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, 1000, "5.4")
	f.ingest(t, 2000, "5.15")

	tests := []struct {
		at     int64
		kernel string // empty means no row
	}{
		{999, ""},
		{1000, "5.4"},
		{1999, "5.4"},
		{2000, "5.15"},
		{9000, "5.15"},
	}
	for _, tt := range tests {
		rows, err := f.query(t, "Host").Time(tt.at).Fetch(ctx)
		require.NoError(t, err)
		if tt.kernel == "" {
			assert.Empty(t, rows, "at %d", tt.at)
			continue
		}
		require.Len(t, rows, 1, "at %d", tt.at)
		assert.Equal(t, map[string]any{
			"hostname_environment": "web1-1-prod",
			"hostname":             "web1",
			"environment":          "1-prod",
			"created_at":           int64(1000),
			"kernel":               tt.kernel,
		}, rows[0]["Host"])
		assert.Equal(t, "1-prod", rows[0]["Environment"]["account_number_name"])
	}
}

func TestFetch_PackageVersionChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, 1000, "5.4", pkg("pkg", "1.0"), pkg("curl", "7.0"))
	f.ingest(t, 2000, "5.4", pkg("pkg", "1.1"), pkg("curl", "7.0"))

	names := func(at int64) []string {
		rows, err := f.query(t, "AptPackage").Time(at).Fetch(ctx)
		require.NoError(t, err)
		var out []string
		for _, r := range rows {
			out = append(out, r["AptPackage"]["name_version"].(string))
		}
		return out
	}
	assert.Equal(t, []string{"curl-7.0", "pkg-1.0"}, names(1000))
	assert.Equal(t, []string{"curl-7.0", "pkg-1.1"}, names(2000))
	assert.Empty(t, names(500))
}

func TestFetch_FilterOrderAndPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, 1000, "5.4", pkg("bash", "5.0"), pkg("bzip2", "1.0"), pkg("curl", "7.0"), pkg("zlib", "1.2"))

	q := f.query(t, "AptPackage").Time(1000)
	require.NoError(t, q.Filter("name", "STARTS WITH", "b", ""))
	require.NoError(t, q.OrderBy("name", "DESC", ""))
	rows, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "bzip2", rows[0]["AptPackage"]["name"])
	assert.Equal(t, "bash", rows[1]["AptPackage"]["name"])

	q = f.query(t, "AptPackage").Time(1000).Page(2, 3)
	rows, err = q.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "zlib-1.2", rows[0]["AptPackage"]["name_version"])

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestCount_Cached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, 1000, "5.4", pkg("a", "1"), pkg("b", "1"))

	q := f.query(t, "AptPackage").Time(3000)
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	f.ingest(t, 2000, "5.4", pkg("a", "1"), pkg("b", "1"), pkg("c", "1"))

	n, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "cached count")

	n, err = q.Time(2500).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTimes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, 1000, "5.4", pkg("a", "1"))
	f.ingest(t, 2000, "5.4", pkg("a", "1"))
	f.ingest(t, 3000, "5.15", pkg("a", "1"))

	times, err := Times(ctx, f.reg, f.g, "Environment", "1-prod")
	require.NoError(t, err)
	assert.Equal(t, []int64{3000, 1000}, times)

	times, err = Times(ctx, f.reg, f.g, "Host", "nope")
	require.NoError(t, err)
	assert.Empty(t, times)

	_, err = Times(ctx, f.reg, f.g, "Toaster", "x")
	assert.True(t, schema.IsUnknownType(err))
}
