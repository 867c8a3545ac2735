// Package store persists maps, their groups and points, comments and access grants.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned when a record fails validation
	ErrInvalid = errors.New("invalid record")
)

// Level is a map access level
type Level string

const (
	LevelOwner  Level = "owner"
	LevelEditor Level = "editor"
	LevelViewer Level = "viewer"
	// LevelNone means no access
	LevelNone Level = ""
)

// ParseLevel validates an access level name
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelOwner, LevelEditor, LevelViewer:
		return l, nil
	}
	return LevelNone, errors.Join(ErrInvalid, errors.New("access level must be owner, editor or viewer"))
}

// CanRead reports whether the level allows viewing a map
func (l Level) CanRead() bool {
	return l == LevelOwner || l == LevelEditor || l == LevelViewer
}

// CanWrite reports whether the level allows editing a map
func (l Level) CanWrite() bool {
	return l == LevelOwner || l == LevelEditor
}

// Point status values
const (
	StatusActive      = "active"
	StatusUnderReview = "under_review"
)

// Default group type for imported and created groups
const DefaultGroupType = "brand"

// Map is a saved map
type Map struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StoredGroup is a persisted group
type StoredGroup struct {
	ID            string        `json:"id"`
	MapID         string        `json:"map_id"`
	Name          string        `json:"name"`
	Color         string        `json:"color"`
	DefaultRadius int           `json:"default_radius"`
	Type          string        `json:"type"`
	SortOrder     int           `json:"sort_order"`
	Polygons      []kml.Polygon `json:"polygons"`
	Points        []StoredPoint `json:"points"`
}

// Group converts the stored group into its parsed form
func (g StoredGroup) Group() kml.Group {
	out := kml.Group{
		ID:            g.ID,
		Name:          g.Name,
		Color:         g.Color,
		DefaultRadius: g.DefaultRadius,
		Points:        make([]kml.Point, 0, len(g.Points)),
		Polygons:      append([]kml.Polygon{}, g.Polygons...),
	}
	for _, p := range g.Points {
		out.Points = append(out.Points, kml.Point{Name: p.Name, Lat: p.Lat, Lng: p.Lng})
	}
	return out
}

// StoredPoint is a persisted point
type StoredPoint struct {
	ID        string         `json:"id"`
	GroupID   string         `json:"group_id"`
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Lat       float64        `json:"lat"`
	Lng       float64        `json:"lng"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Comment is a user note attached to a point
type Comment struct {
	ID        string    `json:"id"`
	PointID   string    `json:"point_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Access grants a user a level on a map
type Access struct {
	MapID  string `json:"map_id"`
	UserID string `json:"user_id"`
	Level  Level  `json:"level"`
}

// Store is the persistence boundary. Imported data replaces a map's groups wholesale.
type Store interface {
	CreateMap(ctx context.Context, m Map) (Map, error)
	GetMap(ctx context.Context, id string) (Map, error)
	ListMaps(ctx context.Context, userID string) ([]Map, error)
	UpdateMap(ctx context.Context, m Map) (Map, error)
	DeleteMap(ctx context.Context, id string) error

	ReplaceGroups(ctx context.Context, mapID string, groups []kml.Group) ([]StoredGroup, error)
	ListGroups(ctx context.Context, mapID string) ([]StoredGroup, error)
	GetGroup(ctx context.Context, id string) (StoredGroup, error)
	UpdateGroup(ctx context.Context, g StoredGroup) (StoredGroup, error)
	DeleteGroup(ctx context.Context, id string) error

	AddPoint(ctx context.Context, p StoredPoint) (StoredPoint, error)
	GetPoint(ctx context.Context, id string) (StoredPoint, error)
	MovePoint(ctx context.Context, pointID, groupID string) error
	DeletePoint(ctx context.Context, id string) error

	AddComment(ctx context.Context, c Comment) (Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	ListComments(ctx context.Context, pointID string) ([]Comment, error)
	DeleteComment(ctx context.Context, id string) error

	GrantAccess(ctx context.Context, a Access) error
	RevokeAccess(ctx context.Context, mapID, userID string) error
	ListAccess(ctx context.Context, mapID string) ([]Access, error)
	// AccessLevel returns the user's level on a map; public maps grant viewer to everyone
	AccessLevel(ctx context.Context, mapID, userID string) (Level, error)

	Close() error
}

// validateMap checks a map before it is written
func validateMap(m Map) error {
	if m.Name == "" {
		return errors.Join(ErrInvalid, errors.New("map name is required"))
	}
	if m.OwnerID == "" {
		return errors.Join(ErrInvalid, errors.New("map owner is required"))
	}
	return nil
}

// validatePoint checks a point before it is written
func validatePoint(p StoredPoint) error {
	if p.GroupID == "" {
		return errors.Join(ErrInvalid, errors.New("point group is required"))
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return errors.Join(ErrInvalid, errors.New("point coordinates out of range"))
	}
	return nil
}

// groupDefaults fills the fields the original data model defaults
func groupDefaults(g StoredGroup) StoredGroup {
	if g.Color == "" {
		g.Color = kml.DefaultPalette[0]
	}
	if g.DefaultRadius == 0 {
		g.DefaultRadius = kml.DefaultRadius
	}
	if g.Type == "" {
		g.Type = DefaultGroupType
	}
	g.Polygons = storablePolygons(g.Polygons)
	if g.Points == nil {
		g.Points = []StoredPoint{}
	}
	return g
}

// storablePolygons copies the polygons whose ring encloses an area; PostGIS
// rejects rings with fewer than three distinct vertices
func storablePolygons(polygons []kml.Polygon) []kml.Polygon {
	out := make([]kml.Polygon, 0, len(polygons))
	for _, p := range polygons {
		if kml.ValidRing(p.Coordinates) {
			out = append(out, p)
		}
	}
	return out
}

func pointDefaults(p StoredPoint) StoredPoint {
	if p.Name == "" {
		p.Name = kml.UnnamedPlacemark
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p
}
