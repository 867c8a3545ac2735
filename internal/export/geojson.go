// Package export writes map groups as GeoJSON, KML and Parquet.
package export

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/mapstate"
)

// Feature kinds
const (
	KindPoint   = "point"
	KindPolygon = "polygon"
	KindCircle  = "circle"
)

// GeoJSONOptions controls which features are emitted
type GeoJSONOptions struct {
	// Settings overrides group color and radius and hides groups or their
	// polygons. Groups without settings use their defaults.
	Settings map[string]mapstate.GroupSettings
	// Circles adds a coverage circle polygon around every point
	Circles  bool
	Segments int
}

// GeoJSON converts groups into a feature collection. Every feature carries
// group, group_id, color, radius and kind properties.
func GeoJSON(groups []kml.Group, opts GeoJSONOptions) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	segments := opts.Segments
	if segments <= 0 {
		segments = geo.DefaultCircleSegments
	}

	for _, g := range groups {
		settings, ok := opts.Settings[g.ID]
		if !ok {
			settings = mapstate.GroupSettings{Visible: true, PolygonsVisible: true, Radius: g.DefaultRadius, Color: g.Color, Opacity: 1}
		}
		if !settings.Visible {
			continue
		}
		radius := settings.Radius
		if radius <= 0 && !ok {
			radius = kml.DefaultRadius
		}

		props := func(kind, name string) geojson.Properties {
			return geojson.Properties{
				"group":    g.Name,
				"group_id": g.ID,
				"color":    settings.Color,
				"radius":   radius,
				"opacity":  settings.Opacity,
				"kind":     kind,
				"name":     name,
			}
		}

		for _, p := range g.Points {
			f := geojson.NewFeature(orb.Point{p.Lng, p.Lat})
			f.Properties = props(KindPoint, p.Name)
			fc.Append(f)

			if opts.Circles && radius > 0 {
				c := geojson.NewFeature(orb.Polygon{toRing(geo.Circle([2]float64{p.Lat, p.Lng}, float64(radius), segments))})
				c.Properties = props(KindCircle, p.Name)
				fc.Append(c)
			}
		}

		if !settings.PolygonsVisible {
			continue
		}
		for _, poly := range g.Polygons {
			f := geojson.NewFeature(orb.Polygon{toRing(poly.Coordinates)})
			f.Properties = props(KindPolygon, poly.Name)
			fc.Append(f)
		}
	}
	return fc
}

// FromState exports the visible groups of a view state in layer order
func FromState(s mapstate.State, circles bool) *geojson.FeatureCollection {
	return GeoJSON(s.Ordered(), GeoJSONOptions{Settings: s.Settings, Circles: circles})
}

// toRing converts [lat, lng] vertices into a closed lon/lat ring
func toRing(vertices [][2]float64) orb.Ring {
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, orb.Point{v[1], v[0]})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}
