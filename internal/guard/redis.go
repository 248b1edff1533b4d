package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLocker creates a new RedisLocker
func NewRedisLocker(client *redis.Client, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		logger: logger,
	}
}

// Lock acquires key, retrying until ctx is done or ttl has passed
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	deadline := time.Now().Add(ttl)

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			l.logger.Error("failed to acquire redis lock", zap.Error(err), zap.String("key", key))
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: %w", key, ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	unlock := func() {
		// The caller's context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release redis lock", zap.Error(err), zap.String("key", key))
		}
	}
	return unlock, nil
}

// RedisSuppressor implements Suppressor with expiring keys
type RedisSuppressor struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSuppressor creates a new RedisSuppressor
func NewRedisSuppressor(client *redis.Client, logger *zap.Logger) *RedisSuppressor {
	return &RedisSuppressor{
		client: client,
		logger: logger,
	}
}

// Claim sets key for window if it is not already set
func (s *RedisSuppressor) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), window).Result()
	if err != nil {
		s.logger.Error("failed to claim suppression key", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes key
func (s *RedisSuppressor) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("failed to release suppression key", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// RedisRateLimiter implements a fixed-window RateLimiter shared across instances
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisRateLimiter allows limit events per window for each key
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:",
		logger: logger,
	}
}

// Allow counts an event for key and reports whether it is within the limit
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := fmt.Sprintf("%s%s:%d", l.prefix, key, time.Now().UnixNano()/int64(l.window))

	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		l.logger.Error("failed to increment rate limit counter", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, windowKey, l.window).Err(); err != nil {
			l.logger.Warn("failed to set rate limit expiry", zap.Error(err), zap.String("key", key))
		}
	}

	return count <= l.limit, nil
}
