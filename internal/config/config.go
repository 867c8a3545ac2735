package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

// DefaultPalette is the fallback group color cycle used when a folder carries no style color
var DefaultPalette = kml.DefaultPalette

// Environment variables that override file and default settings
const (
	EnvDatabaseURL = "MAPCIRCLE_DB_URL"
	EnvJWTSecret   = "MAPCIRCLE_JWT_SECRET"
	EnvRedisAddr   = "MAPCIRCLE_REDIS_ADDR"
	EnvListenAddr  = "MAPCIRCLE_LISTEN"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Config holds the global configuration for mapcircle commands
type Config struct {
	// Import settings
	Palette        []string   `yaml:"palette"`
	DefaultRadius  int        `yaml:"default_radius"`  // meters
	FallbackCenter [2]float64 `yaml:"fallback_center"` // lat, lng used when nothing was imported
	ColorPolicy    string     `yaml:"color_policy"`    // "last" or "first"
	ScriptFile     string     `yaml:"script_file"`     // Lua group hook

	// Remote fetch settings
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxDownloadMB int           `yaml:"max_download_mb"`
	OverpassURL   string        `yaml:"overpass_url"`
	LayersFile    string        `yaml:"layers_file"` // POI layer definitions, embedded defaults when empty

	// Database settings
	DBURL      string `yaml:"db_url"` // takes precedence over the individual fields
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// HTTP server settings
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"jwt_secret"`

	// POI cache
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// Processing
	Workers int `yaml:"workers"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Palette:         append([]string(nil), DefaultPalette...),
		DefaultRadius:   1000,
		FallbackCenter:  [2]float64{43.235, 76.92}, // Almaty
		ColorPolicy:     "last",
		FetchTimeout:    60 * time.Second,
		MaxDownloadMB:   50,
		OverpassURL:     "https://overpass-api.de/api/interpreter",
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "mapcircle",
		DBUser:          "postgres",
		DBSchema:        "public",
		ListenAddr:      ":8080",
		AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		CacheTTL:        24 * time.Hour,
		Workers:         runtime.NumCPU(),
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile reads a YAML config file over the defaults
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.DBURL = v
	}
	if v := getenv(EnvJWTSecret); v != "" {
		c.JWTSecret = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.RedisAddr = v
	}
	if v := getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}
}

// DatabaseConfigured reports whether a PostgreSQL target was given explicitly
func (c *Config) DatabaseConfigured() bool {
	return c.DBURL != "" || c.DBPassword != ""
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// MaxDownloadBytes returns the remote download cap in bytes
func (c *Config) MaxDownloadBytes() int64 {
	return int64(c.MaxDownloadMB) << 20
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Palette) == 0 {
		return fmt.Errorf("palette must contain at least one color")
	}
	for _, col := range c.Palette {
		if !hexColor.MatchString(col) {
			return fmt.Errorf("invalid palette color %q (want #RRGGBB)", col)
		}
	}
	if c.DefaultRadius < 0 {
		return fmt.Errorf("default radius must be >= 0")
	}
	if lat, lng := c.FallbackCenter[0], c.FallbackCenter[1]; lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("fallback center %v out of range", c.FallbackCenter)
	}
	switch strings.ToLower(c.ColorPolicy) {
	case "", "last", "first":
	default:
		return fmt.Errorf("color policy must be \"last\" or \"first\", got %q", c.ColorPolicy)
	}
	if c.MaxDownloadMB < 1 {
		return fmt.Errorf("max download size must be at least 1 MB")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	return nil
}

// ImportOptions returns parser options derived from the import settings
func (c *Config) ImportOptions() kml.Options {
	policy, _ := kml.ParseColorPolicy(strings.ToLower(c.ColorPolicy))
	return kml.Options{
		Palette:       c.Palette,
		DefaultRadius: c.DefaultRadius,
		ColorPolicy:   policy,
	}
}

// ParseCenter parses "lat,lng"
func ParseCenter(s string) ([2]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return [2]float64{}, fmt.Errorf("center must be lat,lng")
	}
	var out [2]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [2]float64{}, fmt.Errorf("invalid center coordinate %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}
