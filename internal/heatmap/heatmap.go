// Package heatmap builds synthetic hourly activity heatmaps from POI layers.
package heatmap

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/poi"
)

// Days are indexed Monday = 0
var Days = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Week is a 7 x 24 grid of values, days first
type Week [7][24]int

// Profile pairs a POI with its synthesized week
type Profile struct {
	POI   poi.POI
	Hours Week
}

// Synthesize generates a plausible visit week for a POI. The result is
// deterministic for a POI id. Values are scaled by a per-POI intensity,
// shifted by up to two hours, varied per day and per hour, and damped with
// distance from the city center.
func Synthesize(p poi.POI, center [2]float64) Week {
	h := fnv.New64a()
	h.Write([]byte(p.ID))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	pattern := PatternFor(p.Kind)

	intensity := uniform(rng, 0.5, 1.5)
	shift := rng.IntN(5) - 2
	var dayVariation [7]float64
	for d := range dayVariation {
		dayVariation[d] = uniform(rng, 0.7, 1.3)
	}
	location := locationModifier(p.Lat, p.Lng, center)

	var week Week
	for d := 0; d < 7; d++ {
		base := pattern.Day(d)
		for hour := 0; hour < 24; hour++ {
			value := float64(base[((hour+shift)%24+24)%24])
			noise := uniform(rng, 0.85, 1.15)
			v := value * intensity * dayVariation[d] * location * noise
			week[d][hour] = int(math.Max(0, math.Min(100, v)))
		}
	}
	return week
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// locationModifier favors POIs near the city center: 1.2 at the center, 1.0
// at 2 km, 0.8 at 5 km, then down to 0.5
func locationModifier(lat, lng float64, center [2]float64) float64 {
	dLat := math.Abs(lat-center[0]) * 111
	dLng := math.Abs(lng-center[1]) * 111 * math.Cos(lat*math.Pi/180)
	dist := math.Sqrt(dLat*dLat + dLng*dLng)

	switch {
	case dist < 2:
		return 1.2 - dist/2*0.2
	case dist < 5:
		return 1.0 - (dist-2)/3*0.2
	default:
		return math.Max(0.5, 0.8-(dist-5)/10*0.3)
	}
}

// Cell is the average activity of all POIs inside one tile
type Cell struct {
	Lat   float64        `json:"lat"`
	Lng   float64        `json:"lng"`
	Count int            `json:"n"`
	Kinds []string       `json:"t"`
	Hours [7][24]float64 `json:"i"`
	Tile  Tile           `json:"-"`
}

// Intensity returns the averaged value for a day and hour, 0 when out of range
func (c *Cell) Intensity(day, hour int) float64 {
	if day < 0 || day > 6 || hour < 0 || hour > 23 {
		return 0
	}
	return c.Hours[day][hour]
}

// Aggregate groups profiles into tiles at the zoom level and averages their
// weeks. Cells are ordered north to south, then west to east.
func Aggregate(profiles []Profile, zoom int) []Cell {
	type acc struct {
		tile  Tile
		count int
		kinds map[string]bool
		sums  [7][24]float64
	}
	cells := make(map[Tile]*acc)

	for _, pr := range profiles {
		if math.IsNaN(pr.POI.Lat) || math.IsNaN(pr.POI.Lng) {
			continue
		}
		t := LatLonToTile(pr.POI.Lat, pr.POI.Lng, zoom)
		a, ok := cells[t]
		if !ok {
			a = &acc{tile: t, kinds: make(map[string]bool)}
			cells[t] = a
		}
		a.count++
		a.kinds[pr.POI.Kind] = true
		for d := 0; d < 7; d++ {
			for h := 0; h < 24; h++ {
				a.sums[d][h] += float64(pr.Hours[d][h])
			}
		}
	}

	out := make([]Cell, 0, len(cells))
	for _, a := range cells {
		center := a.tile.Center()
		c := Cell{Lat: center[0], Lng: center[1], Count: a.count, Tile: a.tile}
		for k := range a.kinds {
			c.Kinds = append(c.Kinds, k)
		}
		sort.Strings(c.Kinds)
		for d := 0; d < 7; d++ {
			for h := 0; h < 24; h++ {
				c.Hours[d][h] = a.sums[d][h] / float64(a.count)
			}
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tile.Y != out[j].Tile.Y {
			return out[i].Tile.Y < out[j].Tile.Y
		}
		return out[i].Tile.X < out[j].Tile.X
	})
	return out
}

// Meta describes a generated heatmap
type Meta struct {
	City      string     `json:"city"`
	CityName  string     `json:"city_name"`
	Center    [2]float64 `json:"center"`
	Zoom      int        `json:"zoom"`
	Created   time.Time  `json:"created"`
	CellCount int        `json:"cell_count"`
	POICount  int        `json:"poi_count"`
}

// Heatmap is the compact frontend representation
type Heatmap struct {
	Meta  Meta   `json:"meta"`
	Cells []Cell `json:"cells"`
}

// Build synthesizes weeks for the POIs, aggregates them at the zoom level and
// rounds coordinates to 5 decimals and intensities to 1
func Build(city poi.City, pois []poi.POI, zoom int) *Heatmap {
	log := logger.Named("heatmap")
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	center := city.Bounds().Center()

	profiles := make([]Profile, len(pois))
	for i, p := range pois {
		profiles[i] = Profile{POI: p, Hours: Synthesize(p, center)}
	}

	cells := Aggregate(profiles, zoom)
	for i := range cells {
		c := &cells[i]
		c.Lat = round(c.Lat, 5)
		c.Lng = round(c.Lng, 5)
		for d := 0; d < 7; d++ {
			for h := 0; h < 24; h++ {
				c.Hours[d][h] = round(c.Hours[d][h], 1)
			}
		}
	}

	log.Info("Built heatmap",
		zap.String("city", city.Name),
		zap.Int("pois", len(pois)),
		zap.Int("cells", len(cells)),
		zap.Int("zoom", zoom))

	return &Heatmap{
		Meta: Meta{
			City:      strings.ToLower(city.Name),
			CityName:  city.Name,
			Center:    [2]float64{round(center[0], 5), round(center[1], 5)},
			Zoom:      zoom,
			Created:   time.Now().UTC(),
			CellCount: len(cells),
			POICount:  len(pois),
		},
		Cells: cells,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// WeightedPoint is one heat sample for a given day and hour
type WeightedPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight"`
}

// Slice returns the weighted cell centers for a day and hour, skipping empty cells
func (h *Heatmap) Slice(day, hour int) []WeightedPoint {
	out := make([]WeightedPoint, 0, len(h.Cells))
	for i := range h.Cells {
		if w := h.Cells[i].Intensity(day, hour); w > 0 {
			out = append(out, WeightedPoint{Lat: h.Cells[i].Lat, Lng: h.Cells[i].Lng, Weight: w})
		}
	}
	return out
}

// Within returns a copy restricted to cells whose center lies in the bounds
func (h *Heatmap) Within(b geo.Bounds) *Heatmap {
	out := &Heatmap{Meta: h.Meta, Cells: make([]Cell, 0)}
	for _, c := range h.Cells {
		if b.Contains(c.Lat, c.Lng) {
			out.Cells = append(out.Cells, c)
		}
	}
	out.Meta.CellCount = len(out.Cells)
	return out
}

// WriteFile writes the heatmap as compact JSON
func (h *Heatmap) WriteFile(path string) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode heatmap: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write heatmap: %w", err)
	}
	return nil
}

// ReadFile loads a heatmap written by WriteFile
func ReadFile(path string) (*Heatmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read heatmap: %w", err)
	}
	var h Heatmap
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode heatmap: %w", err)
	}
	for i := range h.Cells {
		h.Cells[i].Tile = LatLonToTile(h.Cells[i].Lat, h.Cells[i].Lng, h.Meta.Zoom)
	}
	return &h, nil
}
