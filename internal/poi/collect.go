package poi

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapcircle-go/internal/logger"
)

// Fetcher fetches one layer; *Client implements it
type Fetcher interface {
	Fetch(ctx context.Context, layer Layer, city City) ([]POI, error)
}

// Collector fetches layers concurrently through a cache
type Collector struct {
	fetcher Fetcher
	cache   Cache
	workers int
}

// NewCollector creates a collector. Overpass rate limits aggressively, so
// workers should stay small.
func NewCollector(fetcher Fetcher, cache Cache, workers int) *Collector {
	if cache == nil {
		cache = NopCache{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Collector{fetcher: fetcher, cache: cache, workers: workers}
}

// Collect fetches all layers for a city. Results follow layer order; an
// element returned by several layers is kept only in the first.
func (c *Collector) Collect(ctx context.Context, layers []Layer, city City) ([]LayerPOIs, error) {
	log := logger.Named("poi")
	start := time.Now()

	results := make([][]POI, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, layer := range layers {
		g.Go(func() error {
			pois, err := c.layer(gctx, layer, city)
			if err != nil {
				return err
			}
			results[i] = pois
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]LayerPOIs, len(layers))
	total, dupes := 0, 0
	for i, layer := range layers {
		unique := make([]POI, 0, len(results[i]))
		for _, p := range results[i] {
			if seen[p.ID] {
				dupes++
				continue
			}
			seen[p.ID] = true
			unique = append(unique, p)
		}
		out[i] = LayerPOIs{Layer: layer, POIs: unique}
		total += len(unique)
	}

	log.Info("Collected POI layers",
		zap.String("city", city.Name),
		zap.Int("layers", len(layers)),
		zap.Int("pois", total),
		zap.Int("duplicates", dupes),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (c *Collector) layer(ctx context.Context, layer Layer, city City) ([]POI, error) {
	log := logger.Named("poi")
	key := CacheKey(city, layer)

	if pois, ok, err := c.cache.Get(ctx, key); err != nil {
		log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		log.Debug("Cache hit", zap.String("key", key), zap.Int("pois", len(pois)))
		return pois, nil
	}

	pois, err := c.fetcher.Fetch(ctx, layer, city)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", layer.Name, err)
	}
	if err := c.cache.Set(ctx, key, pois); err != nil {
		log.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return pois, nil
}
