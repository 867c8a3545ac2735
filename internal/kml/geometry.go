package kml

import (
	"math"
	"strconv"
	"strings"
)

// geometryKind classifies what a placemark contributes to its group
type geometryKind int

const (
	kindNone geometryKind = iota
	kindPoint
	kindPolygon
	kindNoCoordinates
	kindInvalid
	kindTwoVertex
)

// classify extracts the placemark geometry. An explicit polygon wins over anything
// else; otherwise the first coordinate list decides: one tuple is a point, two are
// dropped, more form an unlabeled ring.
func classify(placemark *element, name string) (geometryKind, Point, Polygon) {
	if poly := placemark.find("Polygon"); poly != nil {
		coords := poly.child("outerBoundaryIs").find("coordinates")
		if coords == nil {
			return kindNoCoordinates, Point{}, Polygon{}
		}
		ring, ok := parseRing(coords.value())
		if !ok {
			return kindInvalid, Point{}, Polygon{}
		}
		return kindPolygon, Point{}, Polygon{Name: name, Coordinates: ring}
	}

	coords := placemark.find("coordinates")
	if coords == nil || coords.value() == "" {
		return kindNoCoordinates, Point{}, Polygon{}
	}

	tuples := strings.Fields(coords.value())
	switch len(tuples) {
	case 1:
		lat, lng, ok := parseTuple(tuples[0])
		if !ok {
			return kindInvalid, Point{}, Polygon{}
		}
		return kindPoint, Point{Name: name, Lat: lat, Lng: lng}, Polygon{}
	case 2:
		return kindTwoVertex, Point{}, Polygon{}
	default:
		ring, ok := parseRing(coords.value())
		if !ok {
			return kindInvalid, Point{}, Polygon{}
		}
		return kindPolygon, Point{}, Polygon{Name: name, Coordinates: ring}
	}
}

// parseRing parses whitespace-separated lon,lat[,alt] tuples into [lat, lng] vertices.
// Unparseable tuples are dropped; fewer than three survivors is not a ring.
func parseRing(text string) ([][2]float64, bool) {
	tuples := strings.Fields(text)
	ring := make([][2]float64, 0, len(tuples))
	for _, tuple := range tuples {
		lat, lng, ok := parseTuple(tuple)
		if !ok {
			continue
		}
		ring = append(ring, [2]float64{lat, lng})
	}
	if len(ring) < 3 {
		return nil, false
	}
	return ring, true
}

// ValidRing reports whether a ring has at least three distinct vertices
func ValidRing(ring [][2]float64) bool {
	seen := make(map[[2]float64]struct{}, 3)
	for _, v := range ring {
		seen[v] = struct{}{}
		if len(seen) >= 3 {
			return true
		}
	}
	return false
}

// parseTuple parses "lon,lat[,alt]"
func parseTuple(tuple string) (lat, lng float64, ok bool) {
	parts := strings.Split(tuple, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return 0, 0, false
	}
	lat, err = strconv.ParseFloat(parts[1], 64)
	if err != nil || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return 0, 0, false
	}
	return lat, lng, true
}

