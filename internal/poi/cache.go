package poi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores collected layers between runs
type Cache interface {
	Get(ctx context.Context, key string) ([]POI, bool, error)
	Set(ctx context.Context, key string, pois []POI) error
}

// CacheKey returns the cache key for a city layer
func CacheKey(city City, layer Layer) string {
	return "mapcircle:poi:" + strings.ToLower(city.Name) + ":" + layer.Name
}

// NopCache never stores anything
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]POI, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, string, []POI) error         { return nil }

// RedisCache stores layers as JSON values with a TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached layer; a missing key is a miss, not an error
func (c *RedisCache) Get(ctx context.Context, key string) ([]POI, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}
	var pois []POI
	if err := json.Unmarshal(data, &pois); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached layer: %w", err)
	}
	return pois, true, nil
}

// Set stores the layer and indexes its points in a geo set under key+":geo"
func (c *RedisCache) Set(ctx context.Context, key string, pois []POI) error {
	data, err := json.Marshal(pois)
	if err != nil {
		return fmt.Errorf("failed to encode layer: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, c.ttl)
	geoKey := key + ":geo"
	pipe.Del(ctx, geoKey)
	if len(pois) > 0 {
		locs := make([]*redis.GeoLocation, 0, len(pois))
		for _, p := range pois {
			locs = append(locs, &redis.GeoLocation{Name: p.ID, Longitude: p.Lng, Latitude: p.Lat})
		}
		pipe.GeoAdd(ctx, geoKey, locs...)
		if c.ttl > 0 {
			pipe.Expire(ctx, geoKey, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Nearby returns ids of cached POIs within radius meters of a location, nearest first
func (c *RedisCache) Nearby(ctx context.Context, key string, lat, lng, radiusM float64) ([]string, error) {
	ids, err := c.client.GeoSearch(ctx, key+":geo", &redis.GeoSearchQuery{
		Longitude:  lng,
		Latitude:   lat,
		Radius:     radiusM,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search cache: %w", err)
	}
	return ids, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
