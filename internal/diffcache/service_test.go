package diffcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/diff"
	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/metrics"
	"github.com/roach88/snitch/internal/testutil"
	"github.com/roach88/snitch/internal/versioned"
)

var hostKey = Key{Label: "Host", Identity: "web1-1-prod", Left: 1000, Right: 2000}

type counter struct {
	calls atomic.Int32
	fn    ComputeFunc
}

func (c *counter) compute(ctx context.Context, k Key) (*diff.Result, error) {
	c.calls.Add(1)
	return c.fn(ctx, k)
}

func result(identity string) *diff.Result {
	return &diff.Result{
		Frame:     &diff.Frame{Side: diff.Both, Label: "Host", Identity: identity, Children: []*diff.Frame{}},
		Nodes:     []diff.NodeDiff{{Label: "Host", Identity: identity}},
		Index:     map[string]map[string]int{"Host": {identity: 0}},
		NodeCount: 1,
	}
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "Host|web1-1-prod|1000|2000", hostKey.String())
}

func TestGet_ComputesOnce(t *testing.T) {
	c := &counter{fn: func(_ context.Context, k Key) (*diff.Result, error) {
		return result(k.Identity), nil
	}}
	rec := metrics.New()
	svc := New(NewMemoryStore(nil), c.compute, Options{InitialWait: 5 * time.Second, Metrics: rec})
	ctx := context.Background()

	first, err := svc.Get(ctx, hostKey)
	require.NoError(t, err)
	svc.Wait()

	second, err := svc.Get(ctx, hostKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), c.calls.Load())

	other := hostKey
	other.Right = 3000
	_, err = svc.Get(ctx, other)
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestGet_RunningUntilDone(t *testing.T) {
	release := make(chan struct{})
	c := &counter{fn: func(_ context.Context, k Key) (*diff.Result, error) {
		<-release
		return result(k.Identity), nil
	}}
	svc := New(NewMemoryStore(nil), c.compute, Options{InitialWait: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := svc.Get(ctx, hostKey)
	assert.ErrorIs(t, err, ErrRunning)

	_, err = svc.Get(ctx, hostKey)
	assert.ErrorIs(t, err, ErrRunning)

	close(release)
	svc.Wait()

	res, err := svc.Get(ctx, hostKey)
	require.NoError(t, err)
	assert.Equal(t, "web1-1-prod", res.Frame.Identity)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestGet_CancelledCallerDoesNotStopComputation(t *testing.T) {
	release := make(chan struct{})
	c := &counter{fn: func(ctx context.Context, k Key) (*diff.Result, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return result(k.Identity), nil
	}}
	svc := New(NewMemoryStore(nil), c.compute, Options{InitialWait: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := svc.Get(ctx, hostKey)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	svc.Wait()

	res, err := svc.Get(context.Background(), hostKey)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodeCount)
}

func TestGet_FailureIsRemembered(t *testing.T) {
	clock := testutil.NewClock(0)
	c := &counter{fn: func(context.Context, Key) (*diff.Result, error) {
		return nil, errors.New("graph unavailable")
	}}
	svc := New(NewMemoryStore(clock.Now), c.compute, Options{
		InitialWait: 5 * time.Second,
		ErrorTTL:    time.Minute,
	})
	ctx := context.Background()

	_, err := svc.Get(ctx, hostKey)
	assert.ErrorIs(t, err, ErrJobFailed)
	svc.Wait()

	_, err = svc.Get(ctx, hostKey)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.ErrorContains(t, err, "graph unavailable")
	assert.Equal(t, int32(1), c.calls.Load())

	clock.Advance(time.Minute)
	_, err = svc.Get(ctx, hostKey)
	assert.ErrorIs(t, err, ErrJobFailed)
	svc.Wait()
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := testutil.NewClock(0)
	m := NewMemoryStore(clock.Now)
	ctx := context.Background()

	ok, err := m.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	e, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusRunning, e.Status)

	clock.Advance(time.Minute)
	_, found, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := store.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("snitch:diff:k"))

	require.NoError(t, store.Set(ctx, "k", Entry{Status: StatusDone, Result: result("web1-1-prod")}, time.Minute))
	e, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusDone, e.Status)
	assert.Equal(t, result("web1-1-prod"), e.Result)

	mr.FastForward(time.Minute)
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestComputer_AgainstGraph(t *testing.T) {
	g := testutil.OpenGraph(t)
	reg := testutil.Registry(t)
	store := versioned.New(g, reg)
	ctx := context.Background()

	for i, kernel := range []string{"5.4", "5.15"} {
		in, err := entity.FromSource(reg, fleet.Host{Hostname: "web1", Environment: "1-prod", Kernel: kernel})
		require.NoError(t, err)
		require.NoError(t, store.Update(ctx, in, int64(i+1)*1000))
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := New(NewRedisStore(client), Computer(reg, g, diff.Options{}), Options{InitialWait: 5 * time.Second})

	res, err := svc.Get(ctx, hostKey)
	require.NoError(t, err)
	svc.Wait()

	h, ok := res.Node("Host", "web1-1-prod")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"kernel": "5.4"}, h.Left)
	assert.Equal(t, map[string]any{"kernel": "5.15"}, h.Right)

	cached, err := svc.Get(ctx, hostKey)
	require.NoError(t, err)
	assert.Equal(t, res.Identities(), cached.Identities())
	assert.Equal(t, res.Frame, cached.Frame)
}
