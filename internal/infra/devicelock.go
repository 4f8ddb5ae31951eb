package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DeviceLocker serializes fiscal mutations per device. Receipt creation and
// day transitions for one device must never interleave, even across replicas.
type DeviceLocker interface {
	// Lock blocks until the device lock is held or ctx is done. The returned
	// release func must be called exactly once.
	Lock(ctx context.Context, deviceID uuid.UUID) (release func(), err error)
}

// RedisDeviceLocker backs DeviceLocker with redis, so exclusion holds across
// API replicas sharing one database.
type RedisDeviceLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisDeviceLocker(rdb *redis.Client, ttl time.Duration) *RedisDeviceLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisDeviceLocker{locker: redislock.New(rdb), ttl: ttl}
}

func (l *RedisDeviceLocker) Lock(ctx context.Context, deviceID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("lock:device:%s", deviceID)
	lock, err := l.locker.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
	})
	if err != nil {
		return nil, fmt.Errorf("devicelock: obtain %s: %w", key, err)
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			log.Warn().Err(releaseErr).Str("key", key).Msg("failed to release device lock")
		}
	}, nil
}

// LocalDeviceLocker is an in-process DeviceLocker for single-instance
// deployments and tests.
type LocalDeviceLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewLocalDeviceLocker() *LocalDeviceLocker {
	return &LocalDeviceLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *LocalDeviceLocker) Lock(_ context.Context, deviceID uuid.UUID) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[deviceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[deviceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
