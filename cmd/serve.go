package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/api"
	"github.com/wegman-software/mapcircle-go/internal/fetch"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

var (
	serveMigrate    bool
	serveLayersFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API used by the map frontend.

Public endpoints parse uploads and URLs, filter viewports, compute centroids,
export groups and serve POI layers and heatmaps. Map storage endpoints require
a bearer token signed with the configured JWT secret.

Without a database the server keeps maps in memory; they are lost on exit.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Address to listen on")
	serveCmd.Flags().StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for bearer tokens")
	serveCmd.Flags().StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the POI cache")
	serveCmd.Flags().StringVar(&cfg.OverpassURL, "overpass-url", cfg.OverpassURL, "Overpass API endpoint")
	serveCmd.Flags().StringVar(&serveLayersFile, "layers-file", "", "YAML layer definitions")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply the database schema before serving")
}

func runServe(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	var st store.Store
	if cfg.DatabaseConfigured() {
		pg, err := openStore(ctx)
		if err != nil {
			exitWithError("failed to connect to database", err)
		}
		if serveMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				exitWithError("migration failed", err)
			}
		}
		st = pg
	} else {
		log.Warn("No database configured, maps are kept in memory")
		st = store.NewMemory()
	}
	defer st.Close()

	if cfg.JWTSecret == "" {
		log.Warn("No JWT secret configured, map storage endpoints will reject all requests")
	}

	rt, err := loadScript()
	if err != nil {
		exitWithError("failed to load script", err)
	}
	if rt != nil {
		defer rt.Close()
	}

	opts := api.Options{
		Store:   st,
		Config:  cfg,
		Fetcher: fetch.NewFetcher(cfg.FetchTimeout, cfg.MaxDownloadBytes()),
		Script:  rt,
		Metrics: startMetrics(ctx),
	}

	pc, err := newPOICollector(ctx, layersFileOr(serveLayersFile))
	if err != nil {
		log.Warn("POI layers unavailable", zap.Error(err))
	} else {
		defer pc.Close()
		opts.Layers = pc.layers
		opts.Collector = pc.collector
	}

	fmt.Printf("Serving on %s (press Ctrl+C to stop)\n", cfg.ListenAddr)
	if err := api.NewServer(opts).ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		// exitWithError skips deferred calls
		st.Close()
		exitWithError("server failed", err)
	}
	log.Info("Server stopped")
}
