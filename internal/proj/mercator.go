// Package proj converts between WGS84 and Web Mercator for circle and tile math.
package proj

import "math"

const (
	earthRadius = 6378137.0          // WGS84 semi-major axis, meters
	maxExtent   = 20037508.342789244 // half the Web Mercator world width
)

// MaxLatitude is the latitude limit of Web Mercator
const MaxLatitude = 85.06

// ToMercator converts (lon, lat) to Web Mercator meters, clamping at the poles
func ToMercator(lon, lat float64) (x, y float64) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	x = lon * maxExtent / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+lat*math.Pi/360.0)) * earthRadius
	return x, y
}

// FromMercator converts Web Mercator meters back to (lon, lat)
func FromMercator(x, y float64) (lon, lat float64) {
	lon = x * 180.0 / maxExtent
	lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2.0) * 180.0 / math.Pi
	return lon, lat
}

// ScaleFactor returns the Web Mercator scale at a latitude; ground distances
// multiplied by it give projected distances
func ScaleFactor(lat float64) float64 {
	return 1.0 / math.Cos(lat*math.Pi/180.0)
}
