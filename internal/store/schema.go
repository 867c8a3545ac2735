package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/logger"
)

// schemaStatements create the tables; %[1]s is the quoted schema name
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.maps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.groups (
		id TEXT PRIMARY KEY,
		map_id TEXT NOT NULL REFERENCES %[1]s.maps(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '#FF5252',
		default_radius INTEGER NOT NULL DEFAULT 1000,
		type TEXT NOT NULL DEFAULT 'brand',
		sort_order INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.group_polygons (
		id BIGSERIAL PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES %[1]s.groups(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		closed BOOLEAN NOT NULL DEFAULT false,
		geom GEOMETRY(Polygon, 4326) NOT NULL
	)`,
	// closed marks rings whose source already repeated the first vertex
	`ALTER TABLE %[1]s.group_polygons ADD COLUMN IF NOT EXISTS closed BOOLEAN NOT NULL DEFAULT false`,
	`CREATE TABLE IF NOT EXISTS %[1]s.points (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES %[1]s.groups(id) ON DELETE CASCADE,
		position INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		metadata JSONB NOT NULL DEFAULT '{}',
		geom GEOMETRY(Point, 4326) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.comments (
		id TEXT PRIMARY KEY,
		point_id TEXT NOT NULL REFERENCES %[1]s.points(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.map_access (
		map_id TEXT NOT NULL REFERENCES %[1]s.maps(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		level TEXT NOT NULL CHECK (level IN ('owner', 'editor', 'viewer')),
		PRIMARY KEY (map_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS groups_map_id_idx ON %[1]s.groups (map_id)`,
	`CREATE INDEX IF NOT EXISTS points_group_id_idx ON %[1]s.points (group_id)`,
	`CREATE INDEX IF NOT EXISTS points_geom_idx ON %[1]s.points USING GIST (geom)`,
	`CREATE INDEX IF NOT EXISTS group_polygons_geom_idx ON %[1]s.group_polygons USING GIST (geom)`,
	`CREATE INDEX IF NOT EXISTS comments_point_id_idx ON %[1]s.comments (point_id)`,
	`CREATE INDEX IF NOT EXISTS map_access_user_idx ON %[1]s.map_access (user_id)`,
}

// Migrate creates the PostGIS extension, the schema and all tables if missing
func (s *Postgres) Migrate(ctx context.Context) error {
	log := logger.Named("store")

	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if s.schema != "public" {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.quotedSchema())); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(stmt, s.quotedSchema())); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	log.Info("Schema ready", zap.String("schema", s.schema), zap.Int("statements", len(schemaStatements)))
	return nil
}
