package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/logging"
	"token-broker/internal/redis"
)

func setupManager(t *testing.T) (*RedsyncManager, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	manager, err := NewRedsyncManager(redisClient, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager, s
}

func TestRedsyncManager_AcquireLock(t *testing.T) {
	manager, s := setupManager(t)
	ctx := context.Background()

	t.Run("successful lock acquisition", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "test-lock", 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, lock)

		assert.Equal(t, "test-lock", lock.Key())
		assert.True(t, lock.IsHeld())
		assert.True(t, s.Exists("lock:test-lock"))

		require.NoError(t, lock.Release(ctx))
		assert.False(t, lock.IsHeld())
		assert.False(t, s.Exists("lock:test-lock"))

		// second release is a no-op
		assert.NoError(t, lock.Release(ctx))
	})

	t.Run("lock contention", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "contended-lock", 30*time.Second)
		require.NoError(t, err)
		defer lock1.Release(ctx)

		shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		lock2, err := manager.AcquireLock(shortCtx, "contended-lock", 30*time.Second)
		assert.Error(t, err)
		assert.Nil(t, lock2)
	})

	t.Run("reacquire after release", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "reuse-lock", 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock1.Release(ctx))

		lock2, err := manager.AcquireLock(ctx, "reuse-lock", 30*time.Second)
		require.NoError(t, err)
		assert.NoError(t, lock2.Release(ctx))
	})
}

func TestRedsyncManager_LockAccount(t *testing.T) {
	manager, s := setupManager(t)
	ctx := context.Background()

	release, err := manager.LockAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, s.Exists("lock:oauth2:refresh:acct-1"))

	// another account is independent
	releaseOther, err := manager.LockAccount(ctx, "acct-2")
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))
	assert.False(t, s.Exists("lock:oauth2:refresh:acct-1"))
}

func TestRedsyncManager_MutualExclusion(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	var inside int32
	var violations int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := manager.LockAccount(ctx, "shared")
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations)
}

func TestRedsyncManager_Close(t *testing.T) {
	manager, s := setupManager(t)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "close-lock", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	assert.False(t, lock.IsHeld())
	assert.False(t, s.Exists("lock:close-lock"))
}

func TestRedsyncManager_NilRedisClient(t *testing.T) {
	manager, err := NewRedsyncManager(nil, nil)
	assert.Error(t, err)
	assert.Nil(t, manager)
	assert.Contains(t, err.Error(), "redis client is required")
}
