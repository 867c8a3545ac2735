// Package poi collects static point-of-interest layers from OpenStreetMap.
package poi

import (
	"github.com/wegman-software/mapcircle-go/internal/kml"
)

// POI is a collected point of interest
type POI struct {
	ID      string            `json:"osm_id"` // "node/123" or "way/456"
	Name    string            `json:"name"`
	Brand   string            `json:"brand,omitempty"`
	Layer   string            `json:"layer"`
	Kind    string            `json:"poi_type"`
	Lat     float64           `json:"lat"`
	Lng     float64           `json:"lng"`
	Address string            `json:"address,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// LayerPOIs is the collection result for one layer
type LayerPOIs struct {
	Layer Layer `json:"-"`
	POIs  []POI `json:"pois"`
}

// ToGroup converts a layer's POIs into a map group so it can share centroid,
// viewport and export handling with imported groups
func ToGroup(layer Layer, pois []POI) kml.Group {
	color := layer.Color
	if color == "" {
		color = kml.DefaultPalette[0]
	}
	g := kml.Group{
		ID:            "poi-" + layer.Name,
		Name:          layer.Name,
		Color:         color,
		DefaultRadius: kml.DefaultRadius,
		Points:        make([]kml.Point, 0, len(pois)),
		Polygons:      []kml.Polygon{},
	}
	for _, p := range pois {
		name := p.Name
		if p.Brand != "" && p.Brand != p.Name {
			name = p.Brand + " - " + p.Name
		}
		g.Points = append(g.Points, kml.Point{Name: name, Lat: p.Lat, Lng: p.Lng})
	}
	return g
}

// Groups converts collection results into groups in layer order
func Groups(results []LayerPOIs) []kml.Group {
	out := make([]kml.Group, 0, len(results))
	for _, r := range results {
		out = append(out, ToGroup(r.Layer, r.POIs))
	}
	return out
}
