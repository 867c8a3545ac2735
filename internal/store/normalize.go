package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

// DecodeGroups decodes a JSON group list, either a bare array or {"groups": [...]},
// reconciling the field-name variants found in saved data
func DecodeGroups(data []byte) ([]kml.Group, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		groups, ok := v["groups"].([]any)
		if !ok {
			return nil, fmt.Errorf("failed to decode groups: missing groups array")
		}
		list = groups
	default:
		return nil, fmt.Errorf("failed to decode groups: unexpected %T", raw)
	}

	out := make([]kml.Group, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("failed to decode group %d: not an object", i)
		}
		out = append(out, NormalizeGroup(obj))
	}
	return out, nil
}

// NormalizeGroup converts a loosely typed group record into a Group.
// default_radius and defaultRadius are both accepted (1000 when absent), as are
// color and defaultColor (first palette color when absent). Polygons may be bare
// [[lat, lng], ...] rings or {name, coordinates} objects.
func NormalizeGroup(raw map[string]any) kml.Group {
	g := kml.Group{
		ID:       stringField(raw, "id"),
		Name:     stringField(raw, "name"),
		Color:    stringField(raw, "color", "defaultColor", "default_color"),
		Points:   []kml.Point{},
		Polygons: []kml.Polygon{},
	}
	if g.Color == "" {
		g.Color = kml.DefaultPalette[0]
	}
	if r, ok := numberField(raw, "defaultRadius", "default_radius", "radius"); ok && r > 0 {
		g.DefaultRadius = int(r)
	} else {
		g.DefaultRadius = kml.DefaultRadius
	}

	if points, ok := raw["points"].([]any); ok {
		for _, item := range points {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			lat, okLat := numberField(obj, "lat", "latitude")
			lng, okLng := numberField(obj, "lng", "lon", "longitude")
			if !okLat || !okLng {
				continue
			}
			name := stringField(obj, "name")
			if name == "" {
				name = kml.UnnamedPlacemark
			}
			g.Points = append(g.Points, kml.Point{Name: name, Lat: lat, Lng: lng})
		}
	}

	if polygons, ok := raw["polygons"].([]any); ok {
		for _, item := range polygons {
			switch v := item.(type) {
			case []any:
				if ring := decodeRing(v); ring != nil {
					g.Polygons = append(g.Polygons, kml.Polygon{Name: g.Name, Coordinates: ring})
				}
			case map[string]any:
				coords, _ := v["coordinates"].([]any)
				if ring := decodeRing(coords); ring != nil {
					g.Polygons = append(g.Polygons, kml.Polygon{Name: stringField(v, "name"), Coordinates: ring})
				}
			}
		}
	}
	return g
}

// decodeRing returns nil unless at least three vertices decode
func decodeRing(items []any) [][2]float64 {
	ring := make([][2]float64, 0, len(items))
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		lat, okLat := toNumber(pair[0])
		lng, okLng := toNumber(pair[1])
		if okLat && okLng {
			ring = append(ring, [2]float64{lat, lng})
		}
	}
	if len(ring) < 3 {
		return nil
	}
	return ring
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberField(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if f, ok := toNumber(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(n, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
