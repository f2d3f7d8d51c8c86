package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/model"
)

const keyPrefix = "leadfinder:enrich:"

// Cache stores enrichment results. Implementations swallow their own errors:
// a broken cache must behave like an empty one.
type Cache interface {
	Get(ctx context.Context, url string) (*model.EnrichedContact, bool)
	Set(ctx context.Context, url string, c model.EnrichedContact, ttl time.Duration)
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis instance named by a redis:// URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: parse redis url")
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Ping checks connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "enrich: redis ping")
}

func (r *RedisCache) Get(ctx context.Context, url string) (*model.EnrichedContact, bool) {
	data, err := r.client.Get(ctx, keyPrefix+url).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Debug("enrich: cache get failed", zap.String("url", url), zap.Error(err))
		}
		return nil, false
	}
	var c model.EnrichedContact
	if err := json.Unmarshal(data, &c); err != nil {
		zap.L().Debug("enrich: cache entry corrupt", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	return &c, true
}

func (r *RedisCache) Set(ctx context.Context, url string, c model.EnrichedContact, ttl time.Duration) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, keyPrefix+url, data, ttl).Err(); err != nil {
		zap.L().Debug("enrich: cache set failed", zap.String("url", url), zap.Error(err))
	}
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
