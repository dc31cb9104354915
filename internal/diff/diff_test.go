package diff

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/graph/sqlitegraph"
	"github.com/roach88/snitch/internal/retry"
	"github.com/roach88/snitch/internal/schema"
	"github.com/roach88/snitch/internal/testutil"
	"github.com/roach88/snitch/internal/versioned"
)

const (
	t1 = int64(1000)
	t2 = int64(2000)
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

type hostSnapshot struct {
	name   string
	kernel string
	pkgs   []fleet.AptPackage
}

// ingest writes environment 1-prod with the given hosts as of at.
func (f *fixture) ingest(t *testing.T, at int64, hosts ...hostSnapshot) {
	t.Helper()
	ctx := context.Background()
	mk := func(src entity.Source) entity.Instance {
		in, err := entity.FromSource(f.reg, src)
		require.NoError(t, err)
		return in
	}

	env := mk(fleet.Environment{AccountNumber: "1", Name: "prod"})
	require.NoError(t, f.store.Update(ctx, env, at))

	var hostInstances []entity.Instance
	for _, h := range hosts {
		hi := mk(fleet.Host{Hostname: h.name, Environment: "1-prod", Kernel: h.kernel})
		require.NoError(t, f.store.Update(ctx, hi, at))
		hostInstances = append(hostInstances, hi)

		var pkgs []entity.Instance
		for _, p := range h.pkgs {
			pkgs = append(pkgs, mk(p))
		}
		apt, err := f.store.Edges(hi, "aptpackages")
		require.NoError(t, err)
		require.NoError(t, apt.Sync(ctx, pkgs, at))
	}
	set, err := f.store.Edges(env, "hosts")
	require.NoError(t, err)
	require.NoError(t, set.Update(ctx, hostInstances, at))
}

func pkg(name, version string) fleet.AptPackage {
	return fleet.AptPackage{Name: name, Version: version}
}

// seedUpgrade installs pkg 1.0 on web1 at t1 and replaces it with 1.1 at
// t2. curl on web1 and everything on web2 stay unchanged.
func seedUpgrade(t *testing.T) *fixture {
	f := newFixture(t)
	f.ingest(t, t1,
		hostSnapshot{name: "web1", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0"), pkg("pkg", "1.0")}},
		hostSnapshot{name: "web2", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0")}},
	)
	f.ingest(t, t2,
		hostSnapshot{name: "web1", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0"), pkg("pkg", "1.1")}},
		hostSnapshot{name: "web2", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0")}},
	)
	return f
}

func TestCompute_PackageUpgrade(t *testing.T) {
	f := seedUpgrade(t)

	res, err := Compute(context.Background(), f.reg, f.g, "Host", "web1-1-prod", t1, t2, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Host:web1-1-prod",
		"AptPackage:pkg-1.0",
		"AptPackage:pkg-1.1",
	}, res.Identities())
	assert.Equal(t, 3, res.NodeCount)

	old, ok := res.Node("AptPackage", "pkg-1.0")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "pkg", "version": "1.0", "name_version": "pkg-1.0", "created_at": t1}, old.Left)
	assert.Empty(t, old.Right)
	assert.Empty(t, old.Both)

	upgraded, ok := res.Node("AptPackage", "pkg-1.1")
	require.True(t, ok)
	assert.Empty(t, upgraded.Left)
	assert.Equal(t, "1.1", upgraded.Right["version"])

	h, ok := res.Node("Host", "web1-1-prod")
	require.True(t, ok)
	assert.Empty(t, h.Left)
	assert.Empty(t, h.Right)
	assert.Equal(t, "5.4", h.Both["kernel"])

	_, ok = res.Node("AptPackage", "curl-7.0")
	assert.False(t, ok, "unchanged package is pruned")

	frame, err := json.MarshalIndent(res.Frame, "", "  ")
	require.NoError(t, err)
	g := goldie.New(t)
	g.Assert(t, "upgrade_frame", append(frame, '\n'))
}

func TestCompute_Symmetry(t *testing.T) {
	f := seedUpgrade(t)
	ctx := context.Background()

	forward, err := Compute(ctx, f.reg, f.g, "Environment", "1-prod", t1, t2, Options{})
	require.NoError(t, err)
	backward, err := Compute(ctx, f.reg, f.g, "Environment", "1-prod", t2, t1, Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, forward.Identities(), backward.Identities())
	for _, n := range forward.Nodes {
		m, ok := backward.Node(n.Label, n.Identity)
		require.True(t, ok, "%s:%s", n.Label, n.Identity)
		assert.Equal(t, n.Left, m.Right)
		assert.Equal(t, n.Right, m.Left)
		assert.Equal(t, n.Both, m.Both)
	}

	assert.Equal(t, Left, forward.Frame.Children[0].Children[0].Side)
	assert.Equal(t, Right, backward.Frame.Children[0].Children[0].Side)
}

func TestCompute_PrunesUnchangedSubtrees(t *testing.T) {
	f := seedUpgrade(t)

	res, err := Compute(context.Background(), f.reg, f.g, "Environment", "1-prod", t1, t2, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Environment:1-prod",
		"Host:web1-1-prod",
		"AptPackage:pkg-1.0",
		"AptPackage:pkg-1.1",
	}, res.Identities())

	require.Len(t, res.Frame.Children, 1)
	assert.Equal(t, "web1-1-prod", res.Frame.Children[0].Identity)
	assert.Equal(t, Both, res.Frame.Children[0].Side)

	_, ok := res.Node("Host", "web2-1-prod")
	assert.False(t, ok)

	// The environment is kept only because a descendant changed.
	env, _ := res.Node("Environment", "1-prod")
	assert.Empty(t, env.Left)
	assert.Empty(t, env.Right)
}

func TestCompute_StateChange(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, t1, hostSnapshot{name: "web1", kernel: "5.4"})
	f.ingest(t, t2, hostSnapshot{name: "web1", kernel: "5.15"})

	res, err := Compute(context.Background(), f.reg, f.g, "Host", "web1-1-prod", t1, t2, Options{})
	require.NoError(t, err)

	h, ok := res.Node("Host", "web1-1-prod")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"kernel": "5.4"}, h.Left)
	assert.Equal(t, map[string]any{"kernel": "5.15"}, h.Right)
	assert.Equal(t, "web1", h.Both["hostname"])
}

func TestCompute_NoChanges(t *testing.T) {
	f := seedUpgrade(t)

	res, err := Compute(context.Background(), f.reg, f.g, "Host", "web2-1-prod", t1, t2, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Host:web2-1-prod"}, res.Identities())
	assert.Empty(t, res.Frame.Children)
}

func TestCompute_RootAddedOnRight(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, t2, hostSnapshot{name: "web1", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0")}})

	res, err := Compute(context.Background(), f.reg, f.g, "Host", "web1-1-prod", t1, t2, Options{})
	require.NoError(t, err)

	assert.Equal(t, Right, res.Frame.Side)
	assert.Equal(t, []string{"Host:web1-1-prod", "AptPackage:curl-7.0"}, res.Identities())
}

func TestCompute_ChildlessHostAdded(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, t1, hostSnapshot{name: "web1", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0")}})
	f.ingest(t, t2,
		hostSnapshot{name: "web1", kernel: "5.4", pkgs: []fleet.AptPackage{pkg("curl", "7.0")}},
		hostSnapshot{name: "web3", kernel: "6.1"},
	)

	res, err := Compute(context.Background(), f.reg, f.g, "Environment", "1-prod", t1, t2, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Environment:1-prod", "Host:web3-1-prod"}, res.Identities())
	require.Len(t, res.Frame.Children, 1)
	assert.Equal(t, "web3-1-prod", res.Frame.Children[0].Identity)
	assert.Equal(t, Right, res.Frame.Children[0].Side)

	h, ok := res.Node("Host", "web3-1-prod")
	require.True(t, ok)
	assert.Empty(t, h.Left)
	assert.Equal(t, "6.1", h.Right["kernel"])
}

func TestCompute_UnknownRoot(t *testing.T) {
	f := newFixture(t)

	res, err := Compute(context.Background(), f.reg, f.g, "Host", "ghost", t1, t2, Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Frame)
	assert.Zero(t, res.NodeCount)

	_, err = Compute(context.Background(), f.reg, f.g, "Toaster", "x", t1, t2, Options{})
	assert.True(t, schema.IsUnknownType(err))
}

func TestCompute_SmallPages(t *testing.T) {
	f := seedUpgrade(t)
	ctx := context.Background()

	big, err := Compute(ctx, f.reg, f.g, "Environment", "1-prod", t1, t2, Options{})
	require.NoError(t, err)
	small, err := Compute(ctx, f.reg, f.g, "Environment", "1-prod", t1, t2, Options{PageSize: 1})
	require.NoError(t, err)

	assert.Equal(t, big, small)
}

func TestResult_Page(t *testing.T) {
	f := seedUpgrade(t)
	res, err := Compute(context.Background(), f.reg, f.g, "Environment", "1-prod", t1, t2, Options{})
	require.NoError(t, err)

	page := res.Page(1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "web1-1-prod", page[0].Identity)
	assert.Equal(t, "pkg-1.0", page[1].Identity)

	assert.Len(t, res.Page(3, 10), 1)
	assert.Empty(t, res.Page(10, 10))
	assert.Empty(t, res.Page(0, 0))
}

func TestResult_JSONRoundTrip(t *testing.T) {
	f := seedUpgrade(t)
	res, err := Compute(context.Background(), f.reg, f.g, "Host", "web1-1-prod", t1, t2, Options{})
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res.Index, back.Index)
	assert.Equal(t, res.NodeCount, back.NodeCount)
	assert.Equal(t, res.Frame, back.Frame)
}
