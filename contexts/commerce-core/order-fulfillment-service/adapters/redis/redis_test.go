package redisadapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestCacheInvalidatorDeletesPrefixedKeys(t *testing.T) {
	server, client := newTestRedis(t)
	require.NoError(t, server.Set("cache:order:1", "{}"))
	require.NoError(t, server.Set("cache:product:sku-a", "{}"))
	require.NoError(t, server.Set("order:1", "untouched"))

	invalidator := NewCacheInvalidator(client, "cache:", nil)
	require.NoError(t, invalidator.Invalidate(context.Background(), "order:1", "product:sku-a"))
	require.NoError(t, invalidator.Invalidate(context.Background(), "order:1"))
	require.NoError(t, invalidator.Invalidate(context.Background()))

	assert.False(t, server.Exists("cache:order:1"))
	assert.False(t, server.Exists("cache:product:sku-a"))
	assert.True(t, server.Exists("order:1"))
}

func TestStatisticsRecorderCountsEachEventOnce(t *testing.T) {
	_, client := newTestRedis(t)
	recorder := NewStatisticsRecorder(client, "stats", time.Hour)
	deltas := []ports.StatDelta{
		{Counter: "orders_created", Count: 1, Amount: decimal.RequireFromString("12.5")},
		{Counter: "units_sold", Count: 3},
	}

	applied, err := recorder.Apply(context.Background(), "evt-1", deltas)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = recorder.Apply(context.Background(), "evt-1", deltas)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = recorder.Apply(context.Background(), "evt-2", deltas[:1])
	require.NoError(t, err)
	assert.True(t, applied)

	snapshot, err := recorder.Snapshot(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snapshot["orders_created"].Count)
	assert.True(t, decimal.NewFromInt(25).Equal(snapshot["orders_created"].Amount))
	assert.Equal(t, int64(3), snapshot["units_sold"].Count)
}

func TestStatisticsMarkerExpires(t *testing.T) {
	server, client := newTestRedis(t)
	recorder := NewStatisticsRecorder(client, "", time.Minute)

	_, err := recorder.Apply(context.Background(), "evt-1", nil)
	require.NoError(t, err)
	assert.True(t, server.Exists(defaultStatsKey+":applied:evt-1"))
	server.FastForward(2 * time.Minute)
	assert.False(t, server.Exists(defaultStatsKey+":applied:evt-1"))
}

func TestSweepLockerGrantsOneHolder(t *testing.T) {
	_, client := newTestRedis(t)
	first := NewSweepLocker(client)
	second := NewSweepLocker(client)
	ctx := context.Background()

	unlock, acquired, err := first.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = second.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, unlock(ctx))
	unlockAgain, acquired, err := second.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, unlockAgain(ctx))
}

func TestLockContentionIsRecognisedByErrorType(t *testing.T) {
	assert.True(t, isLockContention(redsync.ErrFailed))
	assert.True(t, isLockContention(&redsync.ErrTaken{Nodes: []int{0}}))
	assert.True(t, isLockContention(fmt.Errorf("lock: %w", &redsync.ErrNodeTaken{Node: 0})))
	assert.True(t, isLockContention(errors.Join(errors.New("node 1 down"), &redsync.ErrNodeTaken{Node: 0})))

	assert.False(t, isLockContention(errors.New("lock already taken")))
	assert.False(t, isLockContention(fmt.Errorf("node 0: %w", errors.New("connection refused"))))
}
