package export

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/mapstate"
)

func sampleGroups() []kml.Group {
	return []kml.Group{
		{
			ID: "g1", Name: "Cafes", Color: "#FF5252", DefaultRadius: 800,
			Points: []kml.Point{
				{Name: "Central", Lat: 43.2389, Lng: 76.8897},
				{Name: "Mega", Lat: 43.2075671, Lng: 76.8914919},
			},
			Polygons: []kml.Polygon{},
		},
		{
			ID: "g2", Name: "Zones", Color: "#0288D1", DefaultRadius: 1000,
			Points: []kml.Point{{Name: "Office", Lat: 43.25, Lng: 76.95}},
			Polygons: []kml.Polygon{{
				Name:        "District",
				Coordinates: [][2]float64{{43.2, 76.9}, {43.2, 77.0}, {43.3, 77.0}, {43.2, 76.9}},
			}},
		},
	}
}

func countKinds(t *testing.T, data []byte) map[string]int {
	t.Helper()
	var fc struct {
		Features []struct {
			Geometry   struct{ Type string } `json:"geometry"`
			Properties map[string]any        `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	kinds := make(map[string]int)
	for _, f := range fc.Features {
		kinds[f.Properties["kind"].(string)]++
	}
	return kinds
}

func TestGeoJSON(t *testing.T) {
	fc := GeoJSON(sampleGroups(), GeoJSONOptions{})
	data, err := fc.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	kinds := countKinds(t, data)
	if kinds[KindPoint] != 3 || kinds[KindPolygon] != 1 || kinds[KindCircle] != 0 {
		t.Errorf("kinds = %v", kinds)
	}

	first := fc.Features[0]
	if pt, ok := first.Geometry.(orb.Point); !ok || pt.Lon() != 76.8897 || pt.Lat() != 43.2389 {
		t.Errorf("first geometry = %v", first.Geometry)
	}
	if first.Properties["group"] != "Cafes" || first.Properties["color"] != "#FF5252" || first.Properties["radius"] != 800 {
		t.Errorf("properties = %v", first.Properties)
	}

	poly := fc.Features[len(fc.Features)-1].Geometry.(orb.Polygon)
	if !poly[0].Closed() || poly[0][1] != (orb.Point{77.0, 43.2}) {
		t.Errorf("polygon ring = %v", poly[0])
	}
}

func TestGeoJSONCirclesAndSettings(t *testing.T) {
	s := mapstate.FromGroups(sampleGroups(), [2]float64{})
	s, _ = mapstate.SetRadius(s, "g1", 500)
	s, _ = mapstate.TogglePolygons(s, "g2")

	fc := FromState(s, true)
	data, _ := fc.MarshalJSON()
	kinds := countKinds(t, data)
	if kinds[KindCircle] != 3 || kinds[KindPolygon] != 0 {
		t.Errorf("kinds = %v", kinds)
	}
	for _, f := range fc.Features {
		if f.Properties["kind"] == KindCircle && f.Properties["group_id"] == "g1" {
			if f.Properties["radius"] != 500 {
				t.Errorf("circle radius = %v, want 500", f.Properties["radius"])
			}
			ring := f.Geometry.(orb.Polygon)[0]
			if len(ring) != 65 || !ring.Closed() {
				t.Errorf("circle ring has %d vertices", len(ring))
			}
		}
	}

	s, _ = mapstate.ToggleGroup(s, "g1")
	if n := len(FromState(s, false).Features); n != 1 {
		t.Errorf("features with g1 hidden = %d, want 1", n)
	}
}

func TestKMLRoundTrip(t *testing.T) {
	groups := sampleGroups()
	var buf bytes.Buffer
	if err := KML(&buf, "Almaty", groups); err != nil {
		t.Fatalf("KML failed: %v", err)
	}
	if !strings.Contains(buf.String(), "<Folder>") || !strings.Contains(buf.String(), "ff5252ff") {
		t.Errorf("unexpected document:\n%s", buf.String())
	}

	res, err := kml.ParseKML(buf.Bytes(), kml.Options{NewID: func(key string) string { return "id-" + key }})
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if len(res.Groups) != len(groups) {
		t.Fatalf("groups = %d, want %d", len(res.Groups), len(groups))
	}
	for i, want := range groups {
		got := res.Groups[i]
		if got.Name != want.Name || got.Color != want.Color {
			t.Errorf("group %d = %s %s, want %s %s", i, got.Name, got.Color, want.Name, want.Color)
		}
		if len(got.Points) != len(want.Points) || len(got.Polygons) != len(want.Polygons) {
			t.Fatalf("group %d sizes = %d/%d", i, len(got.Points), len(got.Polygons))
		}
		for j := range want.Points {
			if got.Points[j] != want.Points[j] {
				t.Errorf("point = %+v, want %+v", got.Points[j], want.Points[j])
			}
		}
		for j := range want.Polygons {
			if got.Polygons[j].Name != want.Polygons[j].Name || len(got.Polygons[j].Coordinates) != len(want.Polygons[j].Coordinates) {
				t.Errorf("polygon = %+v", got.Polygons[j])
			}
		}
	}

	bad := []kml.Group{{Name: "x", Color: "red"}}
	if err := KML(&bytes.Buffer{}, "bad", bad); err == nil {
		t.Error("expected error for invalid color")
	}
}

func TestParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.parquet")
	n, err := Parquet(path, sampleGroups())
	if err != nil {
		t.Fatalf("Parquet failed: %v", err)
	}
	if n != 4 {
		t.Errorf("rows = %d, want 4", n)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(context.Background(), f, parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 4 {
		t.Errorf("table rows = %d, want 4", tbl.NumRows())
	}
	if got := tbl.Schema().Field(7).Name; got != "geom_wkt" {
		t.Errorf("field 7 = %s", got)
	}
}
