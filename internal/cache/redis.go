package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"caixa/backend/internal/domain"
)

const (
	reportKeyPrefix  = "caixa:report"
	reportGeneration = reportKeyPrefix + ":gen"
)

// RedisReportCache namespaces entries by a generation counter. Invalidate
// bumps the counter so stale entries are never read again and expire by TTL.
type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return NewRedisReportCacheWithClient(client)
}

// NewRedisReportCacheWithClient wraps an existing client.
func NewRedisReportCacheWithClient(client *redis.Client) *RedisReportCache {
	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

// Version is the current generation counter; a missing counter is 0.
func (c *RedisReportCache) Version(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, reportGeneration).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func versionedKey(version int64, key string) string {
	return fmt.Sprintf("%s:v%d:%s", reportKeyPrefix, version, key)
}

func (c *RedisReportCache) Get(ctx context.Context, version int64, key string) (*domain.ReconciliationReport, bool, error) {
	val, err := c.client.Get(ctx, versionedKey(version, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.ReconciliationReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, version int64, key string, value *domain.ReconciliationReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, versionedKey(version, key), payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, reportGeneration).Err()
}
