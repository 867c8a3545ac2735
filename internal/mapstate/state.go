// Package mapstate holds the per-group view state of a map. Every reducer returns
// a new State and leaves its input untouched.
package mapstate

import (
	"fmt"
	"math"
	"regexp"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/kml"
)

// DefaultZoom is the initial zoom level of a freshly imported map
const DefaultZoom = 12

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// GroupSettings is the view configuration of one group
type GroupSettings struct {
	Visible         bool    `json:"visible"`
	PolygonsVisible bool    `json:"polygonsVisible"`
	Radius          int     `json:"radius"`
	Color           string  `json:"color"`
	Opacity         float64 `json:"opacity"`
}

// State is the view of a map: its groups, their settings and layer order
type State struct {
	Groups   []kml.Group              `json:"groups"`
	Settings map[string]GroupSettings `json:"settings"`
	Order    []string                 `json:"order"`
	Center   [2]float64               `json:"center"`
	Zoom     int                      `json:"zoom"`
}

// FromResult builds the initial state for an import, centered on its centroid
func FromResult(res *kml.Result, fallback [2]float64) State {
	var groups []kml.Group
	if res != nil {
		groups = res.Groups
	}
	return FromGroups(groups, fallback)
}

// FromGroups builds the initial state for a set of groups
func FromGroups(groups []kml.Group, fallback [2]float64) State {
	s := State{
		Groups:   append([]kml.Group(nil), groups...),
		Settings: make(map[string]GroupSettings, len(groups)),
		Order:    make([]string, 0, len(groups)),
		Center:   geo.CentroidOr(groups, fallback),
		Zoom:     DefaultZoom,
	}
	for _, g := range groups {
		radius := g.DefaultRadius
		if radius == 0 {
			radius = kml.DefaultRadius
		}
		s.Settings[g.ID] = GroupSettings{
			Visible:         true,
			PolygonsVisible: true,
			Radius:          radius,
			Color:           g.Color,
			Opacity:         1,
		}
		s.Order = append(s.Order, g.ID)
	}
	return s
}

// clone copies the mutable parts of the state
func (s State) clone() State {
	out := s
	out.Groups = append([]kml.Group(nil), s.Groups...)
	out.Order = append([]string(nil), s.Order...)
	out.Settings = make(map[string]GroupSettings, len(s.Settings))
	for id, gs := range s.Settings {
		out.Settings[id] = gs
	}
	return out
}

// update applies fn to one group's settings
func (s State) update(id string, fn func(*GroupSettings) error) (State, error) {
	gs, ok := s.Settings[id]
	if !ok {
		return s, fmt.Errorf("unknown group %q", id)
	}
	if err := fn(&gs); err != nil {
		return s, err
	}
	out := s.clone()
	out.Settings[id] = gs
	return out, nil
}

// Group returns a group by id
func (s State) Group(id string) (kml.Group, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return kml.Group{}, false
}

// ToggleGroup flips the visibility of a group
func ToggleGroup(s State, id string) (State, error) {
	return s.update(id, func(gs *GroupSettings) error {
		gs.Visible = !gs.Visible
		return nil
	})
}

// TogglePolygons flips whether a group's polygons are drawn
func TogglePolygons(s State, id string) (State, error) {
	return s.update(id, func(gs *GroupSettings) error {
		gs.PolygonsVisible = !gs.PolygonsVisible
		return nil
	})
}

// SetRadius sets the coverage radius in meters; negative values clamp to zero
func SetRadius(s State, id string, radius int) (State, error) {
	if radius < 0 {
		radius = 0
	}
	return s.update(id, func(gs *GroupSettings) error {
		gs.Radius = radius
		return nil
	})
}

// SetColor sets the display color, which must be #RRGGBB
func SetColor(s State, id, color string) (State, error) {
	if !hexColor.MatchString(color) {
		return s, fmt.Errorf("invalid color %q (want #RRGGBB)", color)
	}
	return s.update(id, func(gs *GroupSettings) error {
		gs.Color = color
		return nil
	})
}

// SetOpacity sets the fill opacity, clamped to 0..1
func SetOpacity(s State, id string, opacity float64) (State, error) {
	if opacity < 0 || math.IsNaN(opacity) {
		opacity = 0
	} else if opacity > 1 {
		opacity = 1
	}
	return s.update(id, func(gs *GroupSettings) error {
		gs.Opacity = opacity
		return nil
	})
}

// MoveGroup moves a group to a new position in the layer order; out of range
// positions clamp to the ends
func MoveGroup(s State, id string, to int) (State, error) {
	from := -1
	for i, gid := range s.Order {
		if gid == id {
			from = i
			break
		}
	}
	if from < 0 {
		return s, fmt.Errorf("unknown group %q", id)
	}
	if to < 0 {
		to = 0
	}
	if to >= len(s.Order) {
		to = len(s.Order) - 1
	}

	out := s.clone()
	order := append(out.Order[:from:from], out.Order[from+1:]...)
	order = append(order[:to], append([]string{id}, order[to:]...)...)
	out.Order = order
	return out, nil
}

// ShowAll makes every group visible
func ShowAll(s State) State {
	return setAll(s, true)
}

// HideAll hides every group
func HideAll(s State) State {
	return setAll(s, false)
}

func setAll(s State, visible bool) State {
	out := s.clone()
	for id, gs := range out.Settings {
		gs.Visible = visible
		out.Settings[id] = gs
	}
	return out
}

// VisiblePoints lists points of visible groups inside the viewport, following layer order
func VisiblePoints(s State, b geo.Bounds) []geo.VisiblePoint {
	return geo.PointsInBounds(b, s.Ordered(), func(id string) bool {
		return s.Settings[id].Visible
	})
}

// Ordered returns the groups in layer order
func (s State) Ordered() []kml.Group {
	byID := make(map[string]kml.Group, len(s.Groups))
	for _, g := range s.Groups {
		byID[g.ID] = g
	}
	out := make([]kml.Group, 0, len(s.Groups))
	for _, id := range s.Order {
		if g, ok := byID[id]; ok {
			out = append(out, g)
			delete(byID, id)
		}
	}
	// groups missing from the order keep their original position at the end
	for _, g := range s.Groups {
		if _, ok := byID[g.ID]; ok {
			out = append(out, g)
		}
	}
	return out
}
