package kml

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the import functions. Malformed individual placemarks are never
// reported as errors; they are counted in Stats instead.
var (
	// ErrArchive wraps decompression failures of KMZ archives
	ErrArchive = errors.New("failed to read KMZ archive")
	// ErrNoMarkup is returned when a KMZ archive holds no .kml entry
	ErrNoMarkup = errors.New("no KML file found in KMZ archive")
	// ErrNoFeatures is returned when a well-formed document yields no groups
	ErrNoFeatures = errors.New("no valid points found in file")
	// ErrUnsupportedFormat is returned for files that are neither .kml nor .kmz
	ErrUnsupportedFormat = errors.New("please upload a .kmz or .kml file")
)

// DefaultPalette is the fallback group color cycle
var DefaultPalette = []string{
	"#FF5252", "#0288D1", "#7CB342", "#FF9800",
	"#9C27B0", "#00BCD4", "#795548", "#607D8B",
}

const (
	// DefaultRadius is the coverage radius in meters assigned to parsed groups
	DefaultRadius = 1000
	// ImportedGroupName names the group synthesized from a document without folders
	ImportedGroupName = "Imported Points"
	// UnnamedPlacemark is used for placemarks without a name
	UnnamedPlacemark = "Unnamed"
)

// Point is a named location
type Point struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Polygon is a closed ring stored as ordered [lat, lng] vertices; the closing vertex is not required
type Polygon struct {
	Name        string       `json:"name"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Group is a named collection of points and polygons sharing one color and radius
type Group struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	DefaultRadius int       `json:"defaultRadius"`
	Points        []Point   `json:"points"`
	Polygons      []Polygon `json:"polygons"`
}

// Size returns the number of coordinate samples in the group
func (g *Group) Size() int {
	n := len(g.Points)
	for _, p := range g.Polygons {
		n += len(p.Coordinates)
	}
	return n
}

// Empty reports whether the group has neither points nor polygons
func (g *Group) Empty() bool {
	return len(g.Points) == 0 && len(g.Polygons) == 0
}

// Result is the outcome of parsing one document
type Result struct {
	Groups []Group `json:"groups"`
	Stats  Stats   `json:"-"`
}

// Stats tracks parsing statistics
type Stats struct {
	Folders              int `json:"folders"`
	EmptyFolders         int `json:"empty_folders"`
	Placemarks           int `json:"placemarks"`
	Points               int `json:"points"`
	Polygons             int `json:"polygons"`
	SkippedNoCoordinates int `json:"skipped_no_coordinates"`
	SkippedInvalid       int `json:"skipped_invalid"`
	SkippedTwoVertex     int `json:"skipped_two_vertex"`
}

// Skipped returns the number of placemarks that contributed nothing
func (s Stats) Skipped() int {
	return s.SkippedNoCoordinates + s.SkippedInvalid + s.SkippedTwoVertex
}

// ColorPolicy decides which placemark color a folder adopts when several resolve one
type ColorPolicy int

const (
	// ColorLastWins keeps the color of the last placemark that resolved one
	ColorLastWins ColorPolicy = iota
	// ColorFirstWins keeps the first resolved color
	ColorFirstWins
)

// ParseColorPolicy parses "last" or "first"
func ParseColorPolicy(s string) (ColorPolicy, error) {
	switch s {
	case "", "last":
		return ColorLastWins, nil
	case "first":
		return ColorFirstWins, nil
	default:
		return ColorLastWins, fmt.Errorf("unknown color policy %q", s)
	}
}

// String returns the policy name
func (p ColorPolicy) String() string {
	if p == ColorFirstWins {
		return "first"
	}
	return "last"
}

// Options controls group construction
type Options struct {
	// Palette is cycled for folders without a style color (DefaultPalette when empty)
	Palette []string
	// DefaultRadius in meters (DefaultRadius when zero)
	DefaultRadius int
	ColorPolicy   ColorPolicy
	// NewID generates a group id from a folder key ("0", "1", ... or "default")
	NewID func(key string) string
}

// DefaultOptions returns options matching the stock import behavior
func DefaultOptions() Options {
	return Options{
		Palette:       DefaultPalette,
		DefaultRadius: DefaultRadius,
		ColorPolicy:   ColorLastWins,
	}
}

func (o Options) withDefaults() Options {
	if len(o.Palette) == 0 {
		o.Palette = DefaultPalette
	}
	if o.DefaultRadius <= 0 {
		o.DefaultRadius = DefaultRadius
	}
	if o.NewID == nil {
		o.NewID = newGroupID
	}
	return o
}

// newGroupID derives an id from the folder key and the import time; ids are not
// stable across imports of the same file
func newGroupID(key string) string {
	return fmt.Sprintf("group-%s-%d-%s", key, time.Now().UnixMilli(), uuid.NewString()[:8])
}
