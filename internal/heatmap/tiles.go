package heatmap

import (
	"fmt"
	"math"

	"github.com/wegman-software/mapcircle-go/internal/geo"
)

// DefaultZoom gives cells roughly 1.2 km wide at the equator, about 800 m at 50°N
const DefaultZoom = 15

const (
	// MaxMercatorLat is the northern limit of the Web Mercator tile grid
	MaxMercatorLat = 85.0511287798
	// MinMercatorLat is the southern limit of the Web Mercator tile grid
	MinMercatorLat = -85.0511287798
)

// Tile is a slippy-map tile
type Tile struct {
	Z int
	X int
	Y int
}

// String returns the tile in z/x/y format
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// LatLonToTile converts a location to the tile containing it at a zoom level
func LatLonToTile(lat, lon float64, zoom int) Tile {
	lat = math.Max(MinMercatorLat, math.Min(MaxMercatorLat, lat))
	lon = math.Max(-180, math.Min(180, lon))

	n := float64(int(1) << zoom)

	x := int((lon + 180.0) / 360.0 * n)
	if x >= int(n) {
		x = int(n) - 1
	}

	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)
	if y >= int(n) {
		y = int(n) - 1
	}
	if y < 0 {
		y = 0
	}

	return Tile{Z: zoom, X: x, Y: y}
}

// Bounds returns the tile's geographic extent
func (t Tile) Bounds() geo.Bounds {
	return geo.Bounds{
		South: tileLat(t.Y+1, t.Z),
		West:  tileLon(t.X, t.Z),
		North: tileLat(t.Y, t.Z),
		East:  tileLon(t.X+1, t.Z),
	}
}

// Center returns the tile's center as [lat, lng]
func (t Tile) Center() [2]float64 {
	return t.Bounds().Center()
}

func tileLon(x, z int) float64 {
	return float64(x)/float64(int(1)<<z)*360.0 - 180.0
}

func tileLat(y, z int) float64 {
	n := math.Pi - 2.0*math.Pi*float64(y)/float64(int(1)<<z)
	return 180.0 / math.Pi * math.Atan(math.Sinh(n))
}

// TileRange is a rectangle of tiles at one zoom level
type TileRange struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// RangeOf returns the tiles covering a rectangle. Tile Y grows southward.
func RangeOf(b geo.Bounds, zoom int) TileRange {
	topLeft := LatLonToTile(b.North, b.West, zoom)
	bottomRight := LatLonToTile(b.South, b.East, zoom)
	return TileRange{
		Z:    zoom,
		MinX: topLeft.X,
		MaxX: bottomRight.X,
		MinY: topLeft.Y,
		MaxY: bottomRight.Y,
	}
}

// Contains reports whether the tile lies in the range
func (r TileRange) Contains(t Tile) bool {
	return t.Z == r.Z && t.X >= r.MinX && t.X <= r.MaxX && t.Y >= r.MinY && t.Y <= r.MaxY
}

// TileCount returns the number of tiles in the range
func (r TileRange) TileCount() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}
