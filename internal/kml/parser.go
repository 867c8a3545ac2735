package kml

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/logger"
)

// ParseKML parses KML markup into groups. Each top-level folder becomes a group
// holding every placemark beneath it; a document without usable folders yields a
// single synthesized group from all of its placemarks.
func ParseKML(data []byte, opts Options) (*Result, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KML: %w", err)
	}

	opts = opts.withDefaults()
	p := &parser{
		opts:   opts,
		styles: newStyleIndex(root),
		log:    logger.Named("kml"),
	}

	result := &Result{}
	folders := root.topLevel("Folder")
	result.Stats.Folders = len(folders)

	paletteIndex := 0
	for i, folder := range folders {
		name := folder.child("name").value()
		if name == "" {
			name = "Group " + strconv.Itoa(i+1)
		}

		group, color := p.collect(folder.findAll("Placemark"), &result.Stats)
		if group.Empty() {
			result.Stats.EmptyFolders++
			p.log.Debug("Skipping empty folder", zap.String("folder", name))
			continue
		}

		// every emitted folder consumes a palette slot, styled or not
		fallback := opts.Palette[paletteIndex%len(opts.Palette)]
		paletteIndex++
		if color == "" {
			color = fallback
		}
		group.ID = opts.NewID(strconv.Itoa(i))
		group.Name = name
		group.Color = color
		group.DefaultRadius = opts.DefaultRadius
		result.Groups = append(result.Groups, group)
	}

	if len(result.Groups) == 0 {
		// recount over the whole document
		result.Stats = Stats{Folders: result.Stats.Folders, EmptyFolders: result.Stats.EmptyFolders}
		group, _ := p.collect(root.findAll("Placemark"), &result.Stats)
		if !group.Empty() {
			group.ID = opts.NewID("default")
			group.Name = ImportedGroupName
			group.Color = opts.Palette[0]
			group.DefaultRadius = opts.DefaultRadius
			result.Groups = append(result.Groups, group)
		}
	}

	p.log.Debug("Parsed KML",
		zap.Int("groups", len(result.Groups)),
		zap.Int("placemarks", result.Stats.Placemarks),
		zap.Int("points", result.Stats.Points),
		zap.Int("polygons", result.Stats.Polygons),
		zap.Int("skipped", result.Stats.Skipped()))

	return result, nil
}

type parser struct {
	opts   Options
	styles *styleIndex
	log    *zap.Logger
}

// collect classifies placemarks into a group and returns the color chosen by the color policy
func (p *parser) collect(placemarks []*element, stats *Stats) (Group, string) {
	group := Group{
		Points:   []Point{},
		Polygons: []Polygon{},
	}
	var color string

	for _, pm := range placemarks {
		stats.Placemarks++
		name := pm.child("name").value()
		if name == "" {
			name = UnnamedPlacemark
		}

		if c, ok := p.styles.resolve(pm); ok {
			if color == "" || p.opts.ColorPolicy == ColorLastWins {
				color = c
			}
		}

		kind, point, polygon := classify(pm, name)
		switch kind {
		case kindPoint:
			stats.Points++
			group.Points = append(group.Points, point)
		case kindPolygon:
			stats.Polygons++
			group.Polygons = append(group.Polygons, polygon)
		case kindNoCoordinates:
			stats.SkippedNoCoordinates++
		case kindInvalid:
			stats.SkippedInvalid++
		case kindTwoVertex:
			stats.SkippedTwoVertex++
			p.log.Debug("Dropping two-vertex placemark", zap.String("placemark", name))
		}
	}
	return group, color
}

// ValidateResult returns ErrNoFeatures when nothing usable was parsed
func ValidateResult(r *Result) error {
	if r == nil || len(r.Groups) == 0 {
		return ErrNoFeatures
	}
	return nil
}
