package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/fetch"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/metrics"
	"github.com/wegman-software/mapcircle-go/internal/poi"
	"github.com/wegman-software/mapcircle-go/internal/script"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	log := logger.Get()
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// startMetrics logs process metrics until ctx is cancelled
func startMetrics(ctx context.Context) *metrics.Collector {
	collector := metrics.NewCollector(cfg.MetricsInterval, logger.Named("metrics"))
	go collector.Start(ctx)
	return collector
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// loadInput parses a local .kml/.kmz file or a remote URL
func loadInput(ctx context.Context, input string) (*kml.Result, error) {
	if isURL(input) {
		fetcher := fetch.NewFetcher(cfg.FetchTimeout, cfg.MaxDownloadBytes())
		return fetcher.Load(ctx, input, cfg.ImportOptions())
	}

	res, err := kml.ParseFile(input, cfg.ImportOptions())
	if err != nil {
		return nil, err
	}
	if err := kml.ValidateResult(res); err != nil {
		return nil, err
	}
	return res, nil
}

// loadGroups reads groups from a KML/KMZ file or URL, or from a JSON file
// written by the import command
func loadGroups(ctx context.Context, input string) ([]kml.Group, error) {
	if strings.HasSuffix(strings.ToLower(input), ".json") {
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, fmt.Errorf("failed to read groups file: %w", err)
		}
		return store.DecodeGroups(data)
	}

	res, err := loadInput(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := applyScript(res); err != nil {
		return nil, err
	}
	return res.Groups, nil
}

// loadScript returns the configured Lua runtime, or nil without a script
func loadScript() (*script.Runtime, error) {
	if cfg.ScriptFile == "" {
		return nil, nil
	}
	rt := script.NewRuntime()
	if err := rt.LoadFile(cfg.ScriptFile); err != nil {
		rt.Close()
		return nil, err
	}
	if !rt.HasGroupHook() && !rt.HasPointHook() {
		logger.Get().Warn("Script defines no hooks", zap.String("script", cfg.ScriptFile))
	}
	return rt, nil
}

// applyScript runs the configured Lua script over a result
func applyScript(res *kml.Result) error {
	rt, err := loadScript()
	if err != nil || rt == nil {
		return err
	}
	defer rt.Close()
	if err := rt.Apply(res); err != nil {
		return err
	}
	return kml.ValidateResult(res)
}

// openStore connects to PostgreSQL
func openStore(ctx context.Context) (*store.Postgres, error) {
	return store.NewPostgres(ctx, cfg.ConnectionString(), cfg.DBSchema, cfg.Workers)
}

type storeOpener func(ctx context.Context) (store.Store, error)

func openPostgres(ctx context.Context) (store.Store, error) {
	pg, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// poiCollector wires the Overpass client and the optional Redis cache
type poiCollector struct {
	layers    *poi.Config
	collector *poi.Collector
	cache     *poi.RedisCache
}

func newPOICollector(ctx context.Context, layersFile string) (*poiCollector, error) {
	log := logger.Get()

	layers, err := poi.LoadConfig(layersFile)
	if err != nil {
		return nil, err
	}

	pc := &poiCollector{layers: layers}
	var cache poi.Cache
	if cfg.RedisAddr != "" {
		rc, err := poi.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			log.Warn("POI cache unavailable, fetching without cache", zap.Error(err))
		} else {
			pc.cache = rc
			cache = rc
		}
	}

	client := poi.NewClient(cfg.OverpassURL, cfg.FetchTimeout)
	// Overpass allows two concurrent queries per client
	pc.collector = poi.NewCollector(client, cache, min(cfg.Workers, 2))
	return pc, nil
}

func (p *poiCollector) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}

// writeOutput writes v as indented JSON to path, or stdout when path is empty or "-"
func writeOutput(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
