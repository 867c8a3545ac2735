// Package geo provides the geometric helpers used for map views: centroid based
// centering, viewport filtering and coverage circles.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/proj"
)

// DefaultCenter is the [lat, lng] used when there is nothing to center on (Almaty)
var DefaultCenter = [2]float64{43.235, 76.92}

// DefaultCircleSegments is the vertex count of coverage circles
const DefaultCircleSegments = 64

// Centroid returns the mean [lat, lng] of every point and polygon vertex, or
// DefaultCenter when there are none. Antimeridian wraparound is not handled.
func Centroid(groups []kml.Group) [2]float64 {
	return CentroidOr(groups, DefaultCenter)
}

// CentroidOr is Centroid with a caller-supplied fallback
func CentroidOr(groups []kml.Group, fallback [2]float64) [2]float64 {
	var sumLat, sumLng float64
	var n int
	for _, g := range groups {
		for _, p := range g.Points {
			sumLat += p.Lat
			sumLng += p.Lng
			n++
		}
		for _, poly := range g.Polygons {
			for _, v := range poly.Coordinates {
				sumLat += v[0]
				sumLng += v[1]
				n++
			}
		}
	}
	if n == 0 {
		return fallback
	}
	return [2]float64{sumLat / float64(n), sumLng / float64(n)}
}

// Bounds is a geographic rectangle. A malformed rectangle contains nothing.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// NewBounds builds a rectangle from its south-west and north-east [lat, lng] corners
func NewBounds(sw, ne [2]float64) Bounds {
	return Bounds{South: sw[0], West: sw[1], North: ne[0], East: ne[1]}
}

// ParseBounds parses "south,west,north,east"
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bounds must be south,west,north,east")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid bounds value %q: %w", p, err)
		}
		v[i] = f
	}
	return Bounds{South: v[0], West: v[1], North: v[2], East: v[3]}, nil
}

// Valid reports whether the rectangle is finite and not inverted
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.South, b.West, b.North, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.South <= b.North && b.West <= b.East
}

// Bound returns the rectangle in lon/lat order
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// Contains reports whether the location lies inside the rectangle, edges included
func (b Bounds) Contains(lat, lng float64) bool {
	if !b.Valid() {
		return false
	}
	return b.Bound().Contains(orb.Point{lng, lat})
}

// Center returns the [lat, lng] midpoint
func (b Bounds) Center() [2]float64 {
	c := b.Bound().Center()
	return [2]float64{c.Lat(), c.Lon()}
}

// BoundsOf returns the extent of every point and polygon vertex; false when there are none
func BoundsOf(groups []kml.Group) (Bounds, bool) {
	var bound orb.Bound
	first := true
	extend := func(lat, lng float64) {
		p := orb.Point{lng, lat}
		if first {
			bound = p.Bound()
			first = false
			return
		}
		bound = bound.Extend(p)
	}

	for _, g := range groups {
		for _, p := range g.Points {
			extend(p.Lat, p.Lng)
		}
		for _, poly := range g.Polygons {
			for _, v := range poly.Coordinates {
				extend(v[0], v[1])
			}
		}
	}
	if first {
		return Bounds{}, false
	}
	return Bounds{South: bound.Min.Lat(), West: bound.Min.Lon(), North: bound.Max.Lat(), East: bound.Max.Lon()}, true
}

// VisiblePoint is an on-screen point tagged with its group
type VisiblePoint struct {
	kml.Point
	GroupID    string `json:"groupId"`
	GroupName  string `json:"groupName"`
	GroupColor string `json:"groupColor"`
}

// PointsInBounds returns the points of visible groups inside b, in discovery order.
// A nil visible func treats every group as visible.
func PointsInBounds(b Bounds, groups []kml.Group, visible func(groupID string) bool) []VisiblePoint {
	out := []VisiblePoint{}
	if !b.Valid() {
		return out
	}
	bound := b.Bound()
	for _, g := range groups {
		if visible != nil && !visible(g.ID) {
			continue
		}
		for _, p := range g.Points {
			if bound.Contains(orb.Point{p.Lng, p.Lat}) {
				out = append(out, VisiblePoint{
					Point:      p,
					GroupID:    g.ID,
					GroupName:  g.Name,
					GroupColor: g.Color,
				})
			}
		}
	}
	return out
}

// Circle approximates a ground circle of radiusMeters around center [lat, lng].
// The ring is returned as closed [lat, lng] vertices (first == last).
func Circle(center [2]float64, radiusMeters float64, segments int) [][2]float64 {
	if segments < 3 {
		segments = DefaultCircleSegments
	}
	cx, cy := proj.ToMercator(center[1], center[0])
	r := radiusMeters * proj.ScaleFactor(center[0])

	ring := make([][2]float64, 0, segments+1)
	for i := 0; i < segments; i++ {
		angle := 2 * math.Pi * float64(i) / float64(segments)
		lon, lat := proj.FromMercator(cx+r*math.Cos(angle), cy+r*math.Sin(angle))
		ring = append(ring, [2]float64{lat, lon})
	}
	return append(ring, ring[0])
}

// Haversine returns the great-circle distance in meters between two [lat, lng] locations
func Haversine(a, b [2]float64) float64 {
	const earthRadius = 6371000.0
	lat1 := a[0] * math.Pi / 180
	lat2 := b[0] * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b[1] - a[1]) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}
