package mapstate

import (
	"reflect"
	"testing"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/kml"
)

func testState() State {
	res := &kml.Result{Groups: []kml.Group{
		{ID: "a", Name: "A", Color: "#FF5252", DefaultRadius: 1000, Points: []kml.Point{{Name: "a1", Lat: 1, Lng: 1}}},
		{ID: "b", Name: "B", Color: "#0288D1", Points: []kml.Point{{Name: "b1", Lat: 2, Lng: 2}}},
		{ID: "c", Name: "C", Color: "#7CB342", DefaultRadius: 500, Points: []kml.Point{{Name: "c1", Lat: 3, Lng: 3}}},
	}}
	return FromResult(res, geo.DefaultCenter)
}

func TestFromResult(t *testing.T) {
	s := testState()

	if !reflect.DeepEqual(s.Order, []string{"a", "b", "c"}) {
		t.Errorf("order = %v", s.Order)
	}
	if s.Center != [2]float64{2, 2} {
		t.Errorf("center = %v, want [2 2]", s.Center)
	}
	if s.Zoom != DefaultZoom {
		t.Errorf("zoom = %d, want %d", s.Zoom, DefaultZoom)
	}
	if gs := s.Settings["b"]; !gs.Visible || !gs.PolygonsVisible || gs.Radius != 1000 || gs.Color != "#0288D1" || gs.Opacity != 1 {
		t.Errorf("settings[b] = %+v", gs)
	}
	if s.Settings["c"].Radius != 500 {
		t.Errorf("settings[c].Radius = %d, want 500", s.Settings["c"].Radius)
	}

	empty := FromResult(nil, [2]float64{7, 8})
	if empty.Center != [2]float64{7, 8} || len(empty.Order) != 0 {
		t.Errorf("empty state = %+v", empty)
	}
}

func TestReducersDoNotMutateInput(t *testing.T) {
	s := testState()

	next, err := ToggleGroup(s, "a")
	if err != nil {
		t.Fatalf("ToggleGroup failed: %v", err)
	}
	if !s.Settings["a"].Visible {
		t.Error("input state was mutated")
	}
	if next.Settings["a"].Visible {
		t.Error("group a should be hidden")
	}

	back, _ := ToggleGroup(next, "a")
	if !back.Settings["a"].Visible {
		t.Error("second toggle should restore visibility")
	}
}

func TestReducers(t *testing.T) {
	tests := []struct {
		name   string
		apply  func(State) (State, error)
		check  func(t *testing.T, s State)
		errors bool
	}{
		{
			name:  "toggle polygons",
			apply: func(s State) (State, error) { return TogglePolygons(s, "b") },
			check: func(t *testing.T, s State) {
				if s.Settings["b"].PolygonsVisible {
					t.Error("polygons should be hidden")
				}
			},
		},
		{
			name:  "set radius",
			apply: func(s State) (State, error) { return SetRadius(s, "a", 2500) },
			check: func(t *testing.T, s State) {
				if s.Settings["a"].Radius != 2500 {
					t.Errorf("radius = %d, want 2500", s.Settings["a"].Radius)
				}
			},
		},
		{
			name:  "negative radius clamps",
			apply: func(s State) (State, error) { return SetRadius(s, "a", -5) },
			check: func(t *testing.T, s State) {
				if s.Settings["a"].Radius != 0 {
					t.Errorf("radius = %d, want 0", s.Settings["a"].Radius)
				}
			},
		},
		{
			name:  "set color",
			apply: func(s State) (State, error) { return SetColor(s, "c", "#123ABC") },
			check: func(t *testing.T, s State) {
				if s.Settings["c"].Color != "#123ABC" {
					t.Errorf("color = %q", s.Settings["c"].Color)
				}
			},
		},
		{
			name:   "invalid color",
			apply:  func(s State) (State, error) { return SetColor(s, "c", "blue") },
			errors: true,
		},
		{
			name:  "opacity clamps",
			apply: func(s State) (State, error) { return SetOpacity(s, "a", 1.7) },
			check: func(t *testing.T, s State) {
				if s.Settings["a"].Opacity != 1 {
					t.Errorf("opacity = %v, want 1", s.Settings["a"].Opacity)
				}
			},
		},
		{
			name:   "unknown group",
			apply:  func(s State) (State, error) { return ToggleGroup(s, "zzz") },
			errors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tt.apply(testState())
			if (err != nil) != tt.errors {
				t.Fatalf("error = %v, wantErr %v", err, tt.errors)
			}
			if tt.check != nil {
				tt.check(t, next)
			}
		})
	}
}

func TestMoveGroup(t *testing.T) {
	tests := []struct {
		id   string
		to   int
		want []string
	}{
		{"a", 2, []string{"b", "c", "a"}},
		{"c", 0, []string{"c", "a", "b"}},
		{"b", 1, []string{"a", "b", "c"}},
		{"a", 99, []string{"b", "c", "a"}},
		{"c", -3, []string{"c", "a", "b"}},
	}

	for _, tt := range tests {
		s := testState()
		next, err := MoveGroup(s, tt.id, tt.to)
		if err != nil {
			t.Fatalf("MoveGroup(%s, %d) failed: %v", tt.id, tt.to, err)
		}
		if !reflect.DeepEqual(next.Order, tt.want) {
			t.Errorf("MoveGroup(%s, %d) order = %v, want %v", tt.id, tt.to, next.Order, tt.want)
		}
		if !reflect.DeepEqual(s.Order, []string{"a", "b", "c"}) {
			t.Errorf("input order mutated: %v", s.Order)
		}
	}

	if _, err := MoveGroup(testState(), "zzz", 0); err == nil {
		t.Error("expected error for unknown group")
	}
}

func TestShowHideAll(t *testing.T) {
	hidden := HideAll(testState())
	for id, gs := range hidden.Settings {
		if gs.Visible {
			t.Errorf("group %s still visible", id)
		}
	}
	shown := ShowAll(hidden)
	for id, gs := range shown.Settings {
		if !gs.Visible {
			t.Errorf("group %s still hidden", id)
		}
	}
}

func TestVisiblePoints(t *testing.T) {
	s := testState()
	b := geo.NewBounds([2]float64{0, 0}, [2]float64{10, 10})

	if got := VisiblePoints(s, b); len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}

	s, _ = ToggleGroup(s, "b")
	s, _ = MoveGroup(s, "c", 0)
	got := VisiblePoints(s, b)
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0].Name != "c1" || got[1].Name != "a1" {
		t.Errorf("points follow layer order, got %s, %s", got[0].Name, got[1].Name)
	}
}
