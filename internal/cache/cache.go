package cache

import (
	"context"
	"fmt"
	"time"

	"chatfunnel/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Store is the small shared-state surface the pipeline needs: admission
// keys for dedup, pause/block flags, and failure counters. Implementations
// return errors rather than guessing; callers decide their fail-open or
// fail-closed posture per use.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a value with a ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX claims a key atomically, reporting whether this caller won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr bumps a counter and refreshes its ttl on every bump.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	// Healthy reports whether the backing store answers a ping.
	Healthy(ctx context.Context) bool
	Close() error
}

// New returns a redis-backed store, or the disabled store when no URL is
// configured. A configured-but-unreachable redis is an error; silent
// degradation is reserved for the explicitly cache-less deployment.
func New(cfg models.CacheConfig, logger *logrus.Logger) (Store, error) {
	if cfg.URL == "" {
		logger.Warn("Cache disabled: no redis URL configured, dedup and pause flags degrade to safe defaults")
		return &disabledStore{}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &redisStore{client: client}, nil
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get failed: %w", err)
	}
	return val, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	won, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx failed: %w", err)
	}
	return won, nil
}

func (s *redisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr failed: %w", err)
	}
	// Rolling window: every increment pushes the expiry out again.
	if ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("cache expire failed: %w", err)
		}
	}
	return n, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

func (s *redisStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// disabledStore is the cache-less deployment: every read misses, every
// SetNX wins. Duplicate webhooks get processed twice rather than messages
// getting lost, and pause/block flags read as unset.
type disabledStore struct{}

func (disabledStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (disabledStore) Set(context.Context, string, string, time.Duration) error { return nil }

func (disabledStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (disabledStore) Incr(context.Context, string, time.Duration) (int64, error) { return 0, nil }

func (disabledStore) Delete(context.Context, string) error { return nil }

func (disabledStore) Healthy(context.Context) bool { return true }

func (disabledStore) Close() error { return nil }
