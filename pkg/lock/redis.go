package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Hanya hapus key kalau token masih milik kita
var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker holds a lock as a SET NX PX key. The TTL bounds how long a
// crashed holder can block other deliveries for the same order.
type RedisLocker struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	retryEvery time.Duration
	log        *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		retryEvery: 50 * time.Millisecond,
		log:        log.With(zap.String("component", "redis_lock")),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, ErrNotAcquired)
		case <-ticker.C:
		}
	}

	return func() {
		// Unlock must run even if the request context is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := unlockScript.Run(releaseCtx, l.rdb, []string{redisKey}, token).Err(); err != nil {
			l.log.Warn("Failed to release lock", zap.String("key", redisKey), zap.Error(err))
		}
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
