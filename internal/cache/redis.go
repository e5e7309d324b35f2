package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/handoff-backend/internal/config"
)

const keyPrefix = "handoff:"

// Connect opens a client and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect Redis: %w", err)
	}

	logrus.WithField("addr", cfg.Addr()).Info("Redis connected")
	return client, nil
}

// JSONCache stores read models as JSON under a key prefix. Misses and
// Redis errors both read as a miss; writes and deletes only log.
type JSONCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewJSONCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *JSONCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &JSONCache{client: client, ttl: ttl, logger: logger}
}

func Key(parts ...string) string {
	key := keyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func (c *JSONCache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		}
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache entry unreadable")
		return false
	}
	return true
}

func (c *JSONCache) Set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

func (c *JSONCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).WithField("keys", keys).Warn("Cache delete failed")
	}
}
