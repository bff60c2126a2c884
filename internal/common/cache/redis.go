// Package cache provides Redis-backed idempotency records, per-key locks and
// rate limiting, with in-process fallbacks for single-node deployments.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Config holds Redis configuration
type Config struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// NewClient connects to Redis. It returns nil without error when no address
// is configured.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		logger.Info("redis not configured, using in-process cache")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connection established", "addr", cfg.Addr)
	return rdb, nil
}

// ErrLockTimeout is returned when a lock cannot be acquired before the wait
// deadline.
var ErrLockTimeout = errors.New("lock wait timed out")

// IdempotencyStore keeps captured responses keyed by Idempotency-Key.
type IdempotencyStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewIdempotencyStore creates a Redis idempotency store
func NewIdempotencyStore(rdb redis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, prefix: "idem:"}
}

// Get returns the stored response for key, if any
func (s *IdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading idempotency key: %w", err)
	}
	return b, true, nil
}

// Set stores a response for key
func (s *IdempotencyStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.prefix+key, response, ttl).Err(); err != nil {
		return fmt.Errorf("writing idempotency key: %w", err)
	}
	return nil
}

const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Locker is a Redis mutual-exclusion lock keyed by string. The lock expires
// after ttl so a crashed holder cannot block the key forever.
type Locker struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
	logger   *slog.Logger
	newToken func() string
}

// NewLocker creates a Redis locker. Callers wait up to wait for a held key.
func NewLocker(rdb redis.Cmdable, ttl, wait time.Duration, logger *slog.Logger) *Locker {
	return &Locker{
		rdb:      rdb,
		ttl:      ttl,
		wait:     wait,
		interval: 25 * time.Millisecond,
		logger:   logger,
		newToken: uuid.NewString,
	}
}

// Lock blocks until key is held by the caller, ctx ends or the wait elapses.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := l.newToken()
	redisKey := "lock:" + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.rdb.Eval(ctx, unlockScript, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

// RateLimiter is a fixed-window request counter.
type RateLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per key per window
func NewRateLimiter(rdb redis.Cmdable, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

// Allow counts a request for key and reports whether it is within the limit
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "rl:" + key
	n, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("counting request: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("setting window: %w", err)
		}
	}
	return n <= l.limit, nil
}
