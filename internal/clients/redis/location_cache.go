// Package redis implements the distributed location cache that keeps a
// multi-instance deployment converging on the same snapshot: five dataset
// keys plus a version counter under one namespace, all with the same TTL.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/platform/envutil"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
)

const defaultNamespace = "voxhome:location:"

type LocationCache struct {
	log       *logger.Logger
	rdb       *goredis.Client
	namespace string
	ttl       time.Duration
}

func NewLocationCache(log *logger.Logger) (*LocationCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &LocationCache{
		log:       log.With("service", "LocationCache"),
		rdb:       rdb,
		namespace: envutil.String("LOCATION_CACHE_NAMESPACE", defaultNamespace),
		ttl:       envutil.Duration("LOCATION_CACHE_TTL", 24*time.Hour),
	}, nil
}

func (c *LocationCache) key(name string) string { return c.namespace + name }

func (c *LocationCache) datasetKeys() []string {
	return []string{
		c.key("floors"),
		c.key("areas"),
		c.key("entities"),
		c.key("embeddings"),
		c.key("loaded_at"),
	}
}

// Save writes all five dataset keys in one pipeline with the shared TTL.
func (c *LocationCache) Save(ctx context.Context, data domain.LocationData) error {
	payloads := map[string]any{
		c.key("floors"):     data.Floors,
		c.key("areas"):      data.Areas,
		c.key("entities"):   data.Entities,
		c.key("embeddings"): data.Embeddings,
		c.key("loaded_at"):  data.LoadedAt,
	}
	pipe := c.rdb.Pipeline()
	for k, v := range payloads {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		pipe.Set(ctx, k, raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	return nil
}

// Load reads all five dataset keys at once. Any absent or undecodable key
// is a miss; redis failures are logged and also reported as a miss.
func (c *LocationCache) Load(ctx context.Context) (*domain.LocationData, bool) {
	vals, err := c.rdb.MGet(ctx, c.datasetKeys()...).Result()
	if err != nil {
		c.log.Warn("cache load failed, treating as miss", "error", err)
		return nil, false
	}
	if len(vals) != 5 {
		return nil, false
	}
	var data domain.LocationData
	targets := []any{&data.Floors, &data.Areas, &data.Entities, &data.Embeddings, &data.LoadedAt}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok || raw == "" {
			return nil, false
		}
		if err := json.Unmarshal([]byte(raw), targets[i]); err != nil {
			c.log.Warn("cache entry undecodable, treating as miss",
				"key", c.datasetKeys()[i],
				"error", err,
			)
			return nil, false
		}
	}
	return &data, true
}

// Clear deletes the dataset keys. The version counter is left alone; it
// only ever moves forward.
func (c *LocationCache) Clear(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.datasetKeys()...).Err(); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Version returns the remote monotonic version counter; 0 when unset.
func (c *LocationCache) Version(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, c.key("version")).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache version: %w", err)
	}
	return v, nil
}

// BumpVersion increments the remote version counter so peer instances
// detect staleness on their next freshness check.
func (c *LocationCache) BumpVersion(ctx context.Context) (int64, error) {
	v, err := c.rdb.Incr(ctx, c.key("version")).Result()
	if err != nil {
		return 0, fmt.Errorf("cache version bump: %w", err)
	}
	return v, nil
}

func (c *LocationCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
