package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/wkb"
)

// foreignKeyViolation is the SQLSTATE raised when a referenced row is missing
const foreignKeyViolation = "23503"

// querier is satisfied by both the pool and transactions
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store backed by PostgreSQL with PostGIS geometries
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgres connects to PostgreSQL
func NewPostgres(ctx context.Context, connString, schema string, maxConns int) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if schema == "" {
		schema = "public"
	}
	return &Postgres{pool: pool, schema: schema}, nil
}

// Close closes connections
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) quotedSchema() string {
	return pgx.Identifier{s.schema}.Sanitize()
}

func (s *Postgres) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// notFound maps missing rows and dangling references to ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return notFound(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const mapColumns = "id, name, description, owner_id, is_public, created_at, updated_at"

func scanMap(row pgx.Row) (Map, error) {
	var m Map
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.OwnerID, &m.IsPublic, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Postgres) CreateMap(ctx context.Context, m Map) (Map, error) {
	if err := validateMap(m); err != nil {
		return Map{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Map{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := scanMap(tx.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, name, description, owner_id, is_public) VALUES ($1, $2, $3, $4, $5)
		 RETURNING %s`, s.table("maps"), mapColumns),
		m.ID, m.Name, m.Description, m.OwnerID, m.IsPublic))
	if err != nil {
		return Map{}, fmt.Errorf("failed to create map: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (map_id, user_id, level) VALUES ($1, $2, $3)`, s.table("map_access")),
		created.ID, created.OwnerID, string(LevelOwner)); err != nil {
		return Map{}, fmt.Errorf("failed to grant owner access: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Map{}, fmt.Errorf("failed to commit: %w", err)
	}
	return created, nil
}

func (s *Postgres) GetMap(ctx context.Context, id string) (Map, error) {
	m, err := scanMap(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, mapColumns, s.table("maps")), id))
	if err != nil {
		return Map{}, notFound(err)
	}
	return m, nil
}

func (s *Postgres) ListMaps(ctx context.Context, userID string) ([]Map, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT m.id, m.name, m.description, m.owner_id, m.is_public, m.created_at, m.updated_at
		 FROM %s m JOIN %s a ON a.map_id = m.id
		 WHERE a.user_id = $1
		 ORDER BY m.updated_at DESC, m.id`, s.table("maps"), s.table("map_access")), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	defer rows.Close()

	out := []Map{}
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateMap(ctx context.Context, m Map) (Map, error) {
	updated, err := scanMap(s.pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE %s SET name = COALESCE(NULLIF($2, ''), name), description = $3, is_public = $4, updated_at = now()
		 WHERE id = $1 RETURNING %s`, s.table("maps"), mapColumns),
		m.ID, m.Name, m.Description, m.IsPublic))
	if err != nil {
		return Map{}, notFound(err)
	}
	return updated, nil
}

func (s *Postgres) DeleteMap(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table("maps")), id))
}

// ReplaceGroups deletes a map's groups and bulk loads the new ones. Points go
// through COPY into a temporary table and are converted to geometries in one INSERT.
func (s *Postgres) ReplaceGroups(ctx context.Context, mapID string, groups []kml.Group) ([]StoredGroup, error) {
	log := logger.Named("store")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT true FROM %s WHERE id = $1 FOR UPDATE`, s.table("maps")), mapID).Scan(&exists); err != nil {
		return nil, notFound(err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE map_id = $1`, s.table("groups")), mapID); err != nil {
		return nil, fmt.Errorf("failed to delete groups: %w", err)
	}

	enc := wkb.NewEncoder(256)
	out := make([]StoredGroup, 0, len(groups))
	var pointRows [][]any

	batch := &pgx.Batch{}
	for i, g := range groups {
		sg := groupDefaults(StoredGroup{
			ID:            uuid.NewString(),
			MapID:         mapID,
			Name:          g.Name,
			Color:         g.Color,
			DefaultRadius: g.DefaultRadius,
			SortOrder:     i,
			Polygons:      g.Polygons,
		})
		batch.Queue(fmt.Sprintf(
			`INSERT INTO %s (id, map_id, name, color, default_radius, type, sort_order) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.table("groups")), sg.ID, mapID, sg.Name, sg.Color, sg.DefaultRadius, sg.Type, sg.SortOrder)
		s.queuePolygons(batch, enc, sg.ID, sg.Polygons)

		for pos, p := range g.Points {
			sp := pointDefaults(StoredPoint{ID: uuid.NewString(), GroupID: sg.ID, Name: p.Name, Lat: p.Lat, Lng: p.Lng})
			enc.EncodePoint(sp.Lng, sp.Lat)
			pointRows = append(pointRows, []any{sp.ID, sp.GroupID, pos, sp.Name, enc.Copy()})
			sg.Points = append(sg.Points, sp)
		}
		out = append(out, sg)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to insert groups: %w", err)
	}

	if len(pointRows) > 0 {
		if err := s.copyPoints(ctx, tx, pointRows); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET updated_at = now() WHERE id = $1`, s.table("maps")), mapID); err != nil {
		return nil, fmt.Errorf("failed to touch map: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	log.Info("Replaced map groups",
		zap.String("map", mapID),
		zap.Int("groups", len(out)),
		zap.Int("points", len(pointRows)))
	return out, nil
}

// queuePolygons inserts polygons that are already filtered by storablePolygons
func (s *Postgres) queuePolygons(batch *pgx.Batch, enc *wkb.Encoder, groupID string, polygons []kml.Polygon) {
	for pos, poly := range polygons {
		enc.EncodeRing(poly.Coordinates)
		batch.Queue(fmt.Sprintf(
			`INSERT INTO %s (group_id, position, name, closed, geom) VALUES ($1, $2, $3, $4, ST_GeomFromEWKB($5))`,
			s.table("group_polygons")), groupID, pos, poly.Name, wkb.IsClosed(poly.Coordinates), enc.Copy())
	}
}

func (s *Postgres) copyPoints(ctx context.Context, tx pgx.Tx, rows [][]any) error {
	const tempTable = "point_load_tmp"
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		DROP TABLE IF EXISTS %[1]s;
		CREATE TEMP TABLE %[1]s (
			id TEXT,
			group_id TEXT,
			position INTEGER,
			name TEXT,
			geom_wkb BYTEA
		) ON COMMIT DROP`, tempTable)); err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{tempTable},
		[]string{"id", "group_id", "position", "name", "geom_wkb"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("COPY failed: %w", err)
	}

	// EWKB already carries the SRID
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, group_id, position, name, status, metadata, geom)
		SELECT id, group_id, position, name, $1, '{}'::jsonb, ST_GeomFromEWKB(geom_wkb)
		FROM %s`, s.table("points"), tempTable), StatusActive); err != nil {
		return fmt.Errorf("failed to insert points: %w", err)
	}
	return nil
}

const groupColumns = "id, map_id, name, color, default_radius, type, sort_order"

func scanGroup(row pgx.Row) (StoredGroup, error) {
	var g StoredGroup
	err := row.Scan(&g.ID, &g.MapID, &g.Name, &g.Color, &g.DefaultRadius, &g.Type, &g.SortOrder)
	g.Points = []StoredPoint{}
	g.Polygons = []kml.Polygon{}
	return g, err
}

func (s *Postgres) ListGroups(ctx context.Context, mapID string) ([]StoredGroup, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE map_id = $1 ORDER BY sort_order, id`, groupColumns, s.table("groups")), mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	groups := []StoredGroup{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadChildren(ctx, s.pool, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Postgres) GetGroup(ctx context.Context, id string) (StoredGroup, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, groupColumns, s.table("groups")), id))
	if err != nil {
		return StoredGroup{}, notFound(err)
	}
	groups := []StoredGroup{g}
	if err := s.loadChildren(ctx, s.pool, groups); err != nil {
		return StoredGroup{}, err
	}
	return groups[0], nil
}

// loadChildren fills points and polygons of the given groups in place
func (s *Postgres) loadChildren(ctx context.Context, q querier, groups []StoredGroup) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make([]string, len(groups))
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
		index[g.ID] = i
	}

	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE group_id = ANY($1) ORDER BY position, created_at, id`,
		pointColumns, s.table("points")), ids)
	if err != nil {
		return fmt.Errorf("failed to load points: %w", err)
	}
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			rows.Close()
			return err
		}
		g := &groups[index[p.GroupID]]
		g.Points = append(g.Points, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, fmt.Sprintf(
		`SELECT group_id, name, closed, ST_AsBinary(geom) FROM %s WHERE group_id = ANY($1) ORDER BY position, id`,
		s.table("group_polygons")), ids)
	if err != nil {
		return fmt.Errorf("failed to load polygons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var groupID, name string
		var closed bool
		var geom []byte
		if err := rows.Scan(&groupID, &name, &closed, &geom); err != nil {
			return fmt.Errorf("failed to scan polygon: %w", err)
		}
		ring, err := wkb.DecodeRing(geom, closed)
		if err != nil {
			return fmt.Errorf("failed to decode polygon: %w", err)
		}
		g := &groups[index[groupID]]
		g.Polygons = append(g.Polygons, kml.Polygon{Name: name, Coordinates: ring})
	}
	return rows.Err()
}

func (s *Postgres) UpdateGroup(ctx context.Context, g StoredGroup) (StoredGroup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StoredGroup{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var mapID string
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`UPDATE %s SET
			name = COALESCE(NULLIF($2, ''), name),
			color = COALESCE(NULLIF($3, ''), color),
			default_radius = CASE WHEN $4::int > 0 THEN $4::int ELSE default_radius END,
			type = COALESCE(NULLIF($5, ''), type),
			sort_order = $6,
			updated_at = now()
		 WHERE id = $1 RETURNING map_id`, s.table("groups")),
		g.ID, g.Name, g.Color, g.DefaultRadius, g.Type, g.SortOrder).Scan(&mapID)
	if err != nil {
		return StoredGroup{}, notFound(err)
	}

	if g.Polygons != nil {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE group_id = $1`, s.table("group_polygons")), g.ID); err != nil {
			return StoredGroup{}, fmt.Errorf("failed to delete polygons: %w", err)
		}
		batch := &pgx.Batch{}
		s.queuePolygons(batch, wkb.NewEncoder(256), g.ID, storablePolygons(g.Polygons))
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return StoredGroup{}, fmt.Errorf("failed to insert polygons: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET updated_at = now() WHERE id = $1`, s.table("maps")), mapID); err != nil {
		return StoredGroup{}, fmt.Errorf("failed to touch map: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return StoredGroup{}, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetGroup(ctx, g.ID)
}

func (s *Postgres) DeleteGroup(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table("groups")), id))
}

const pointColumns = "id, group_id, name, address, status, metadata, created_at, ST_AsBinary(geom)"

func scanPoint(row pgx.Row) (StoredPoint, error) {
	var p StoredPoint
	var geom []byte
	if err := row.Scan(&p.ID, &p.GroupID, &p.Name, &p.Address, &p.Status, &p.Metadata, &p.CreatedAt, &geom); err != nil {
		return StoredPoint{}, err
	}
	lon, lat, err := wkb.DecodePoint(geom)
	if err != nil {
		return StoredPoint{}, fmt.Errorf("failed to decode point: %w", err)
	}
	p.Lat, p.Lng = lat, lon
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p, nil
}

func (s *Postgres) AddPoint(ctx context.Context, p StoredPoint) (StoredPoint, error) {
	if err := validatePoint(p); err != nil {
		return StoredPoint{}, err
	}
	p = pointDefaults(p)
	p.ID = uuid.NewString()

	enc := wkb.NewEncoder(32)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s (id, group_id, position, name, address, status, metadata, geom)
		 VALUES ($1, $2, COALESCE((SELECT MAX(position) + 1 FROM %[1]s WHERE group_id = $2), 0),
		         $3, $4, $5, $6, ST_GeomFromEWKB($7))
		 RETURNING created_at`, s.table("points")),
		p.ID, p.GroupID, p.Name, p.Address, p.Status, p.Metadata, enc.EncodePoint(p.Lng, p.Lat)).Scan(&p.CreatedAt)
	if err != nil {
		return StoredPoint{}, notFound(err)
	}
	return p, nil
}

func (s *Postgres) GetPoint(ctx context.Context, id string) (StoredPoint, error) {
	p, err := scanPoint(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, pointColumns, s.table("points")), id))
	if err != nil {
		return StoredPoint{}, notFound(err)
	}
	return p, nil
}

func (s *Postgres) MovePoint(ctx context.Context, pointID, groupID string) error {
	return affected(s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET group_id = $2 WHERE id = $1`, s.table("points")), pointID, groupID))
}

func (s *Postgres) DeletePoint(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table("points")), id))
}

const commentColumns = "id, point_id, user_id, text, created_at"

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.PointID, &c.UserID, &c.Text, &c.CreatedAt)
	return c, err
}

func (s *Postgres) AddComment(ctx context.Context, c Comment) (Comment, error) {
	created, err := scanComment(s.pool.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, point_id, user_id, text) VALUES ($1, $2, $3, $4) RETURNING %s`,
		s.table("comments"), commentColumns),
		uuid.NewString(), c.PointID, c.UserID, c.Text))
	if err != nil {
		return Comment{}, notFound(err)
	}
	return created, nil
}

func (s *Postgres) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, commentColumns, s.table("comments")), id))
	if err != nil {
		return Comment{}, notFound(err)
	}
	return c, nil
}

func (s *Postgres) ListComments(ctx context.Context, pointID string) ([]Comment, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE point_id = $1 ORDER BY created_at, id`, commentColumns, s.table("comments")), pointID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteComment(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table("comments")), id))
}

func (s *Postgres) GrantAccess(ctx context.Context, a Access) error {
	if _, err := ParseLevel(string(a.Level)); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (map_id, user_id, level) VALUES ($1, $2, $3)
		 ON CONFLICT (map_id, user_id) DO UPDATE SET level = EXCLUDED.level`, s.table("map_access")),
		a.MapID, a.UserID, string(a.Level))
	return notFound(err)
}

func (s *Postgres) RevokeAccess(ctx context.Context, mapID, userID string) error {
	return affected(s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE map_id = $1 AND user_id = $2`, s.table("map_access")), mapID, userID))
}

func (s *Postgres) ListAccess(ctx context.Context, mapID string) ([]Access, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT map_id, user_id, level FROM %s WHERE map_id = $1 ORDER BY user_id`, s.table("map_access")), mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list access: %w", err)
	}
	defer rows.Close()

	out := []Access{}
	for rows.Next() {
		var a Access
		var level string
		if err := rows.Scan(&a.MapID, &a.UserID, &level); err != nil {
			return nil, fmt.Errorf("failed to scan access: %w", err)
		}
		a.Level = Level(level)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) AccessLevel(ctx context.Context, mapID, userID string) (Level, error) {
	var isPublic bool
	var level *string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT m.is_public, a.level FROM %s m
		 LEFT JOIN %s a ON a.map_id = m.id AND a.user_id = $2
		 WHERE m.id = $1`, s.table("maps"), s.table("map_access")), mapID, userID).Scan(&isPublic, &level)
	if err != nil {
		return LevelNone, notFound(err)
	}
	if level != nil {
		return Level(*level), nil
	}
	if isPublic {
		return LevelViewer, nil
	}
	return LevelNone, nil
}

var _ Store = (*Postgres)(nil)
