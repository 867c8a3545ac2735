// Package api serves the import, viewport, POI and map storage endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/config"
	"github.com/wegman-software/mapcircle-go/internal/fetch"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/metrics"
	"github.com/wegman-software/mapcircle-go/internal/poi"
	"github.com/wegman-software/mapcircle-go/internal/script"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// Options wires the server's dependencies. Only Store and Config are required;
// POI and heatmap endpoints answer 503 without a POI collector.
type Options struct {
	Store     store.Store
	Config    *config.Config
	Fetcher   *fetch.Fetcher
	Layers    *poi.Config
	Collector *poi.Collector
	Script    *script.Runtime
	Metrics   *metrics.Collector
}

// Server holds the HTTP handlers
type Server struct {
	store     store.Store
	cfg       *config.Config
	fetcher   *fetch.Fetcher
	layers    *poi.Config
	collector *poi.Collector
	script    *script.Runtime
	metrics   *metrics.Collector
	log       *zap.Logger
}

// NewServer creates a server from its dependencies
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewFetcher(cfg.FetchTimeout, cfg.MaxDownloadBytes())
	}
	return &Server{
		store:     opts.Store,
		cfg:       cfg,
		fetcher:   fetcher,
		layers:    opts.Layers,
		collector: opts.Collector,
		script:    opts.Script,
		metrics:   opts.Metrics,
		log:       logger.Named("api"),
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(s.metrics))
	r.Use(RecoverMiddleware())
	r.Use(CORSMiddleware(s.cfg.AllowedOrigins))

	r.HandleFunc("/healthz", s.health).Methods("GET")

	// Stateless import and viewport routes
	pub := r.PathPrefix("/api").Subrouter()
	pub.HandleFunc("/parse", s.parseUpload).Methods("POST", "OPTIONS")
	pub.HandleFunc("/parse-url", s.parseURL).Methods("POST", "OPTIONS")
	pub.HandleFunc("/visible", s.visible).Methods("POST", "OPTIONS")
	pub.HandleFunc("/centroid", s.centroid).Methods("POST", "OPTIONS")
	pub.HandleFunc("/export", s.exportGroups).Methods("POST", "OPTIONS")
	pub.HandleFunc("/layers", s.listLayers).Methods("GET", "OPTIONS")
	pub.HandleFunc("/pois/{layer}", s.getPOIs).Methods("GET", "OPTIONS")
	pub.HandleFunc("/heatmap", s.getHeatmap).Methods("GET", "OPTIONS")

	auth := JWTMiddleware(s.cfg.JWTSecret)

	maps := r.PathPrefix("/api/maps").Subrouter()
	maps.Use(auth)
	maps.HandleFunc("", s.listMaps).Methods("GET", "OPTIONS")
	maps.HandleFunc("", s.createMap).Methods("POST")
	maps.HandleFunc("/{id}", s.getMap).Methods("GET", "OPTIONS")
	maps.HandleFunc("/{id}", s.updateMap).Methods("PUT")
	maps.HandleFunc("/{id}", s.deleteMap).Methods("DELETE")
	maps.HandleFunc("/{id}/groups", s.replaceGroups).Methods("PUT", "OPTIONS")
	maps.HandleFunc("/{id}/import", s.importIntoMap).Methods("POST", "OPTIONS")
	maps.HandleFunc("/{id}/export", s.exportMap).Methods("GET", "OPTIONS")
	maps.HandleFunc("/{id}/access", s.listAccess).Methods("GET", "OPTIONS")
	maps.HandleFunc("/{id}/access", s.grantAccess).Methods("POST")
	maps.HandleFunc("/{id}/access", s.revokeAccess).Methods("DELETE")

	groups := r.PathPrefix("/api/groups").Subrouter()
	groups.Use(auth)
	groups.HandleFunc("/{id}", s.updateGroup).Methods("PATCH", "OPTIONS")
	groups.HandleFunc("/{id}", s.deleteGroup).Methods("DELETE")
	groups.HandleFunc("/{id}/points", s.addPoint).Methods("POST", "OPTIONS")

	points := r.PathPrefix("/api/points").Subrouter()
	points.Use(auth)
	points.HandleFunc("/{id}", s.movePoint).Methods("PATCH", "OPTIONS")
	points.HandleFunc("/{id}", s.deletePoint).Methods("DELETE")
	points.HandleFunc("/{id}/comments", s.listComments).Methods("GET", "OPTIONS")
	points.HandleFunc("/{id}/comments", s.addComment).Methods("POST")

	comments := r.PathPrefix("/api/comments").Subrouter()
	comments.Use(auth)
	comments.HandleFunc("/{id}", s.deleteComment).Methods("DELETE", "OPTIONS")

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.metrics != nil {
		resp["metrics"] = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// importOptions returns parser options for one request
func (s *Server) importOptions() kml.Options {
	return s.cfg.ImportOptions()
}

// postProcess validates a parse result and runs the Lua hook when configured
func (s *Server) postProcess(res *kml.Result) error {
	if s.script != nil {
		if err := s.script.Apply(res); err != nil {
			return NewAPIError("SCRIPT_ERROR", "Group script failed", http.StatusUnprocessableEntity, err.Error())
		}
	}
	if err := kml.ValidateResult(res); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordImport()
	}
	return nil
}
