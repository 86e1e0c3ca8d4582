// Package locks provides distributed locking using the Redlock implementation
// from go-redsync/redsync/v4. It serialises token refreshes for one account across
// broker instances that share a Redis.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/redis"
)

// DefaultRefreshLockTTL bounds how long a crashed holder can block other instances
const DefaultRefreshLockTTL = 30 * time.Second

// Lock is an acquired distributed lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	IsHeld() bool
}

// RedsyncManager hands out Redlock mutexes. Held locks are renewed in the
// background at a third of their TTL until released.
//
// RedsyncManager is safe for concurrent use.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	refreshTTL time.Duration
	logger     logging.Logger

	mu         sync.Mutex
	localLocks map[*RedsyncLock]struct{}
}

// RedsyncLock wraps a redsync.Mutex
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
	once       sync.Once
}

// NewRedsyncManager creates a lock manager over a connected Redis client
func NewRedsyncManager(redisClient *redis.Client, logger logging.Logger) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		refreshTTL: DefaultRefreshLockTTL,
		logger:     logging.OrGlobal(logger),
		localLocks: make(map[*RedsyncLock]struct{}),
	}, nil
}

// AcquireLock blocks until the lock for key is acquired or ctx is done
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration))

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.TimeoutError("lock acquisition", ctxErr).WithContext("key", key)
		}
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mu.Lock()
	rm.localLocks[lock] = struct{}{}
	rm.mu.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

// LockAccount takes the refresh lock of one account. The returned function
// releases it.
func (rm *RedsyncManager) LockAccount(ctx context.Context, account string) (func(context.Context) error, error) {
	lock, err := rm.AcquireLock(ctx, "oauth2:refresh:"+account, rm.refreshTTL)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.logger.Warn("Lost distributed lock",
					logging.String("key", lock.key),
					logging.Err(err),
				)
				lock.stop()
				return
			}
		}
	}
}

// Close releases every lock still held by this manager
func (rm *RedsyncManager) Close() error {
	rm.mu.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, lock := range held {
		_ = lock.Release(ctx)
	}
	return nil
}

// Key returns the lock key without the redis prefix
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and unlocks in Redis. Releasing twice is a no-op.
func (rl *RedsyncLock) Release(ctx context.Context) error {
	var err error
	rl.once.Do(func() {
		rl.stop()
		if _, unlockErr := rl.mutex.UnlockContext(ctx); unlockErr != nil {
			err = errors.InternalError("failed to release distributed lock", unlockErr).WithContext("key", rl.key)
		}
	})
	return err
}

// IsHeld returns true until the lock is released or renewal fails
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

func (rl *RedsyncLock) stop() {
	rl.cancel()
	rl.manager.mu.Lock()
	delete(rl.manager.localLocks, rl)
	rl.manager.mu.Unlock()
}
