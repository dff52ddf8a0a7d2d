package cluster

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redislib.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestLease_MutualExclusion(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	a := NewLease(client, "lease:revenue", "node-a", time.Second, zerolog.Nop())
	b := NewLease(client, "lease:revenue", "node-b", time.Second, zerolog.Nop())

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second holder acquired a held lease")

	holder, err := b.Holder(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-a", holder)
}

func TestLease_HolderCanExtend(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	a := NewLease(client, "lease:revenue", "node-a", time.Second, zerolog.Nop())

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A second acquire by the same holder renews instead of failing.
	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLease_ReleaseFreesTheLease(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	a := NewLease(client, "lease:revenue", "node-a", time.Second, zerolog.Nop())
	b := NewLease(client, "lease:revenue", "node-b", time.Second, zerolog.Nop())

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Release(ctx))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLease_ExpiryPromotesReplacement(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	a := NewLease(client, "lease:revenue", "node-a", time.Second, zerolog.Nop())
	b := NewLease(client, "lease:revenue", "node-b", time.Second, zerolog.Nop())

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate the holder crashing: its claim expires.
	mr.FastForward(2 * time.Second)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLease_ReleaseByNonHolderIsNoop(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	a := NewLease(client, "lease:revenue", "node-a", time.Second, zerolog.Nop())
	b := NewLease(client, "lease:revenue", "node-b", time.Second, zerolog.Nop())

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx))

	holder, err := a.Holder(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-a", holder)
}
