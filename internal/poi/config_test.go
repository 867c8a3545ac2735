package poi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig failed: %v", err)
	}
	if len(cfg.Layers) < 10 {
		t.Errorf("layers = %d, want the full default set", len(cfg.Layers))
	}

	kyiv, err := cfg.City("")
	if err != nil || kyiv.Name != "Kyiv" {
		t.Fatalf("default city = %+v, %v", kyiv, err)
	}
	if b := kyiv.Bounds(); b.South != 50.213 || b.East != 30.825 {
		t.Errorf("Kyiv bounds = %+v", b)
	}

	lviv, err := cfg.City("lviv")
	if err != nil {
		t.Fatalf("City(lviv) failed: %v", err)
	}
	b := lviv.Bounds()
	if !b.Valid() || !b.Contains(49.8397, 24.0297) || b.Contains(50.45, 30.52) {
		t.Errorf("Lviv bounds = %+v", b)
	}

	if _, err := cfg.City("Atlantis"); !errors.Is(err, ErrUnknownCity) {
		t.Errorf("unknown city error = %v", err)
	}

	sm, err := cfg.Layer("supermarket")
	if err != nil {
		t.Fatalf("Layer(supermarket) failed: %v", err)
	}
	if sm.BrandFor("Сільпо на Подолі", nil) != "Silpo" || sm.BrandFor("Le Silpo", nil) != "Le Silpo" {
		t.Error("brand rules not applied")
	}
	if sm.BrandFor("Corner shop", map[string]string{"brand": "Spar"}) != "Spar" {
		t.Error("brand tag should win")
	}

	cinema, _ := cfg.Layer("cinema")
	if cinema.PatternKind() != "bar" || sm.PatternKind() != "supermarket" {
		t.Errorf("pattern kinds = %s, %s", cinema.PatternKind(), sm.PatternKind())
	}
}

func TestSelect(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	all, _ := cfg.Select(nil)
	if len(all) != len(cfg.Layers) {
		t.Errorf("Select(nil) = %d layers", len(all))
	}
	some, err := cfg.Select([]string{"park", " cafe"})
	if err != nil || len(some) != 2 || some[0].Name != "park" || some[1].Name != "cafe" {
		t.Errorf("Select = %+v, %v", some, err)
	}
	if _, err := cfg.Select([]string{"casino"}); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("Select unknown error = %v", err)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "layers: [\n"},
		{"no name", "layers:\n  - query: [shop=mall]\n"},
		{"duplicate", "layers:\n  - {name: a, query: [shop=mall]}\n  - {name: a, query: [shop=mall]}\n"},
		{"no query", "layers:\n  - name: a\n"},
		{"bad selector", "layers:\n  - {name: a, query: [shop]}\n"},
		{"bad color", "layers:\n  - {name: a, color: red, query: [shop=mall]}\n"},
		{"bad city", "cities:\n  - {name: x, south: 2, north: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layers.yaml")
	data := "cities:\n  - {name: Almaty, lat: 43.235, lng: 76.92, radius_m: 10000}\nlayers:\n  - {name: cafe, query: [amenity=cafe]}\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Layers) != 1 || cfg.Cities[0].Name != "Almaty" {
		t.Errorf("config = %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
