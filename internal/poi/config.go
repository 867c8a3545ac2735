package poi

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapcircle-go/internal/geo"
)

//go:embed layers.yaml
var defaultLayers []byte

var (
	ErrUnknownLayer = errors.New("unknown POI layer")
	ErrUnknownCity  = errors.New("unknown city")
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Config holds POI layer and city definitions
type Config struct {
	Cities []City  `yaml:"cities"`
	Layers []Layer `yaml:"layers"`
}

// Layer is a named POI category collected from OpenStreetMap
type Layer struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind,omitempty"` // activity pattern, defaults to Name
	Color string `yaml:"color,omitempty"`
	// Query lists tag selectors, "key=value" or "key=*"
	Query  []string      `yaml:"query"`
	Filter *FilterConfig `yaml:"filter,omitempty"`
	Brands []BrandRule   `yaml:"brands,omitempty"`
}

// BrandRule maps names containing Match (case-insensitive) to Brand
type BrandRule struct {
	Match string `yaml:"match"`
	Brand string `yaml:"brand"`
}

// City is a named collection area. Either the bounding box or a center with a
// radius must be given.
type City struct {
	Name    string  `yaml:"name"`
	South   float64 `yaml:"south,omitempty"`
	West    float64 `yaml:"west,omitempty"`
	North   float64 `yaml:"north,omitempty"`
	East    float64 `yaml:"east,omitempty"`
	Lat     float64 `yaml:"lat,omitempty"`
	Lng     float64 `yaml:"lng,omitempty"`
	RadiusM float64 `yaml:"radius_m,omitempty"`
}

// Bounds returns the collection rectangle
func (c City) Bounds() geo.Bounds {
	if c.RadiusM > 0 {
		dLat := c.RadiusM / 111320
		dLng := c.RadiusM / (111320 * math.Cos(c.Lat*math.Pi/180))
		return geo.Bounds{South: c.Lat - dLat, West: c.Lng - dLng, North: c.Lat + dLat, East: c.Lng + dLng}
	}
	return geo.Bounds{South: c.South, West: c.West, North: c.North, East: c.East}
}

// PatternKind returns the activity pattern name for the layer
func (l Layer) PatternKind() string {
	if l.Kind != "" {
		return l.Kind
	}
	return l.Name
}

// BrandFor returns the brand for a POI, preferring an explicit brand tag
func (l Layer) BrandFor(name string, tags map[string]string) string {
	if b := tags["brand"]; b != "" {
		return b
	}
	lower := strings.ToLower(name)
	for _, r := range l.Brands {
		if r.Match != "" && strings.Contains(lower, strings.ToLower(r.Match)) {
			return r.Brand
		}
	}
	return ""
}

// LoadConfig loads layer definitions from a YAML file, or the embedded
// defaults when path is empty
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layers file: %w", err)
	}
	return ParseConfig(data)
}

// DefaultConfig returns the embedded layer definitions
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultLayers)
}

// ParseConfig decodes and validates layer definitions
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse layers YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks layer names, selectors, colors and city extents
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Layers))
	for _, l := range c.Layers {
		if l.Name == "" {
			return fmt.Errorf("layer without name")
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate layer %q", l.Name)
		}
		seen[l.Name] = true
		if len(l.Query) == 0 {
			return fmt.Errorf("layer %q has no query selectors", l.Name)
		}
		for _, sel := range l.Query {
			if _, _, err := parseSelector(sel); err != nil {
				return fmt.Errorf("layer %q: %w", l.Name, err)
			}
		}
		if l.Color != "" && !hexColor.MatchString(l.Color) {
			return fmt.Errorf("layer %q: invalid color %q (want #RRGGBB)", l.Name, l.Color)
		}
	}
	for _, city := range c.Cities {
		if !city.Bounds().Valid() {
			return fmt.Errorf("city %q has an invalid extent", city.Name)
		}
	}
	return nil
}

// Layer returns the layer with the given name
func (c *Config) Layer(name string) (Layer, error) {
	for _, l := range c.Layers {
		if l.Name == name {
			return l, nil
		}
	}
	return Layer{}, fmt.Errorf("%w: %s", ErrUnknownLayer, name)
}

// Select returns the named layers in the given order, or all layers when names is empty
func (c *Config) Select(names []string) ([]Layer, error) {
	if len(names) == 0 {
		return c.Layers, nil
	}
	out := make([]Layer, 0, len(names))
	for _, name := range names {
		l, err := c.Layer(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// City returns the city with the given name, matched case-insensitively.
// An empty name selects the first city.
func (c *Config) City(name string) (City, error) {
	if name == "" && len(c.Cities) > 0 {
		return c.Cities[0], nil
	}
	for _, city := range c.Cities {
		if strings.EqualFold(city.Name, name) {
			return city, nil
		}
	}
	return City{}, fmt.Errorf("%w: %s", ErrUnknownCity, name)
}

// parseSelector splits "key=value"; a value of "*" matches any value
func parseSelector(sel string) (key, value string, err error) {
	key, value, ok := strings.Cut(sel, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" || strings.ContainsAny(key+value, `"[]`) {
		return "", "", fmt.Errorf("invalid tag selector %q (want key=value or key=*)", sel)
	}
	return key, value, nil
}
