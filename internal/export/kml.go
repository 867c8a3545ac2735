package export

import (
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	gokml "github.com/twpayne/go-kml"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

// polygonAlpha keeps exported polygon fills see-through
const polygonAlpha = 0x66

// KML writes the groups as a KML document: one folder per group, each with a
// shared style carrying the group color. Re-importing the output yields the
// same groups, names, colors and coordinates.
func KML(w io.Writer, name string, groups []kml.Group) error {
	doc := gokml.Document(gokml.Name(name))
	folders := make([]gokml.Element, 0, len(groups))

	for i, g := range groups {
		c, ok := hexRGBA(g.Color)
		if !ok {
			return fmt.Errorf("group %q has invalid color %q", g.Name, g.Color)
		}
		fill := c
		fill.A = polygonAlpha

		style := gokml.SharedStyle(fmt.Sprintf("group-%d", i),
			gokml.IconStyle(gokml.Color(c)),
			gokml.LineStyle(gokml.Color(c), gokml.Width(2)),
			gokml.PolyStyle(gokml.Color(fill)),
		)
		doc.Add(style)

		folder := gokml.Folder(gokml.Name(g.Name))
		for _, p := range g.Points {
			folder.Add(gokml.Placemark(
				gokml.Name(p.Name),
				gokml.StyleURL(style.URL()),
				gokml.Point(gokml.Coordinates(gokml.Coordinate{Lon: p.Lng, Lat: p.Lat})),
			))
		}
		for _, poly := range g.Polygons {
			coords := make([]gokml.Coordinate, 0, len(poly.Coordinates))
			for _, v := range poly.Coordinates {
				coords = append(coords, gokml.Coordinate{Lon: v[1], Lat: v[0]})
			}
			folder.Add(gokml.Placemark(
				gokml.Name(poly.Name),
				gokml.StyleURL(style.URL()),
				gokml.Polygon(gokml.OuterBoundaryIs(gokml.LinearRing(gokml.Coordinates(coords...)))),
			))
		}
		folders = append(folders, folder)
	}
	doc.Add(folders...)

	if err := gokml.KML(doc).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

// hexRGBA parses #RRGGBB into an opaque color
func hexRGBA(hex string) (color.RGBA, bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, true
}
