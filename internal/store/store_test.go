package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

func importedGroups() []kml.Group {
	return []kml.Group{
		{
			ID: "group-0", Name: "Cafes", Color: "#FF5252", DefaultRadius: 800,
			Points: []kml.Point{
				{Name: "first", Lat: 43.25, Lng: 76.92},
				{Name: "second", Lat: 43.26, Lng: 76.93},
			},
			Polygons: []kml.Polygon{},
		},
		{
			ID: "group-1", Name: "Zones", Color: "#0288D1", DefaultRadius: 1000,
			Points: []kml.Point{},
			Polygons: []kml.Polygon{
				{Name: "zone", Coordinates: [][2]float64{{43.2, 76.9}, {43.2, 77.0}, {43.3, 77.0}}},
				{Name: "block", Coordinates: [][2]float64{{43.0, 76.0}, {43.0, 76.1}, {43.1, 76.1}, {43.1, 76.0}, {43.0, 76.0}}},
				{Name: "sliver", Coordinates: [][2]float64{{43.0, 76.0}, {43.0, 76.1}, {43.0, 76.0}}},
			},
		},
	}
}

// testStoreContract exercises a Store implementation end to end
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	m, err := s.CreateMap(ctx, Map{Name: "Almaty", OwnerID: "owner"})
	if err != nil {
		t.Fatalf("CreateMap failed: %v", err)
	}
	t.Cleanup(func() { s.DeleteMap(context.Background(), m.ID) })

	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Errorf("created map = %+v", m)
	}
	if _, err := s.CreateMap(ctx, Map{OwnerID: "owner"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("CreateMap without name error = %v, want ErrInvalid", err)
	}

	level, err := s.AccessLevel(ctx, m.ID, "owner")
	if err != nil || level != LevelOwner {
		t.Errorf("owner level = %q, %v", level, err)
	}

	maps, err := s.ListMaps(ctx, "owner")
	if err != nil || len(maps) != 1 {
		t.Fatalf("ListMaps(owner) = %v, %v", maps, err)
	}
	if maps, _ := s.ListMaps(ctx, "stranger"); len(maps) != 0 {
		t.Errorf("ListMaps(stranger) = %v", maps)
	}

	// import
	stored, err := s.ReplaceGroups(ctx, m.ID, importedGroups())
	if err != nil {
		t.Fatalf("ReplaceGroups failed: %v", err)
	}
	if len(stored) != 2 || stored[0].Type != DefaultGroupType {
		t.Fatalf("stored groups = %+v", stored)
	}

	groups, err := s.ListGroups(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "Cafes" || groups[1].Name != "Zones" {
		t.Fatalf("groups = %+v", groups)
	}
	if len(groups[0].Points) != 2 || groups[0].Points[0].Name != "first" {
		t.Errorf("points = %+v", groups[0].Points)
	}
	if p := groups[0].Points[0]; p.Lat != 43.25 || p.Lng != 76.92 || p.Status != StatusActive {
		t.Errorf("point = %+v", p)
	}
	// the sliver has two distinct vertices and is not stored
	if len(groups[1].Polygons) != 2 || len(groups[1].Polygons[0].Coordinates) != 3 {
		t.Fatalf("polygons = %+v", groups[1].Polygons)
	}
	if v := groups[1].Polygons[0].Coordinates[2]; v != [2]float64{43.3, 77.0} {
		t.Errorf("polygon vertex = %v", v)
	}
	block := groups[1].Polygons[1]
	if block.Name != "block" || len(block.Coordinates) != 5 || block.Coordinates[4] != block.Coordinates[0] {
		t.Errorf("closed ring = %+v, want all 5 vertices", block)
	}
	if g := groups[0].Group(); g.DefaultRadius != 800 || len(g.Points) != 2 {
		t.Errorf("Group() = %+v", g)
	}

	// points
	cafes, zones := groups[0], groups[1]
	p, err := s.AddPoint(ctx, StoredPoint{GroupID: cafes.ID, Name: "new", Lat: 43.27, Lng: 76.94, Status: StatusUnderReview,
		Metadata: map[string]any{"source": "manual"}})
	if err != nil {
		t.Fatalf("AddPoint failed: %v", err)
	}
	if _, err := s.AddPoint(ctx, StoredPoint{GroupID: cafes.ID, Lat: 91}); !errors.Is(err, ErrInvalid) {
		t.Errorf("AddPoint out of range error = %v, want ErrInvalid", err)
	}
	if _, err := s.AddPoint(ctx, StoredPoint{GroupID: "missing", Lat: 1, Lng: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddPoint missing group error = %v, want ErrNotFound", err)
	}

	got, err := s.GetPoint(ctx, p.ID)
	if err != nil || got.Status != StatusUnderReview || got.Metadata["source"] != "manual" {
		t.Errorf("GetPoint = %+v, %v", got, err)
	}
	if err := s.MovePoint(ctx, p.ID, zones.ID); err != nil {
		t.Fatalf("MovePoint failed: %v", err)
	}
	if moved, _ := s.GetGroup(ctx, zones.ID); len(moved.Points) != 1 {
		t.Errorf("zones points after move = %d, want 1", len(moved.Points))
	}

	// comments
	c, err := s.AddComment(ctx, Comment{PointID: p.ID, UserID: "owner", Text: "check hours"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	comments, err := s.ListComments(ctx, p.ID)
	if err != nil || len(comments) != 1 || comments[0].Text != "check hours" {
		t.Errorf("ListComments = %+v, %v", comments, err)
	}
	if got, err := s.GetComment(ctx, c.ID); err != nil || got.UserID != "owner" {
		t.Errorf("GetComment = %+v, %v", got, err)
	}
	if err := s.DeleteComment(ctx, c.ID); err != nil {
		t.Errorf("DeleteComment failed: %v", err)
	}
	if err := s.DeleteComment(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteComment error = %v, want ErrNotFound", err)
	}
	if err := s.DeletePoint(ctx, p.ID); err != nil {
		t.Errorf("DeletePoint failed: %v", err)
	}

	// group updates
	updated, err := s.UpdateGroup(ctx, StoredGroup{ID: cafes.ID, Color: "#000000", DefaultRadius: 1500, SortOrder: 5})
	if err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}
	if updated.Color != "#000000" || updated.DefaultRadius != 1500 || updated.Name != "Cafes" || updated.SortOrder != 5 {
		t.Errorf("updated group = %+v", updated)
	}
	if groups, _ := s.ListGroups(ctx, m.ID); groups[0].ID != zones.ID {
		t.Errorf("sort order not applied, first group = %s", groups[0].Name)
	}

	// access
	if err := s.GrantAccess(ctx, Access{MapID: m.ID, UserID: "friend", Level: LevelViewer}); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if err := s.GrantAccess(ctx, Access{MapID: m.ID, UserID: "friend", Level: LevelEditor}); err != nil {
		t.Fatalf("GrantAccess upgrade failed: %v", err)
	}
	if level, _ := s.AccessLevel(ctx, m.ID, "friend"); level != LevelEditor {
		t.Errorf("friend level = %q, want editor", level)
	}
	if err := s.GrantAccess(ctx, Access{MapID: m.ID, UserID: "friend", Level: "admin"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("GrantAccess invalid level error = %v", err)
	}
	if access, _ := s.ListAccess(ctx, m.ID); len(access) != 2 {
		t.Errorf("ListAccess = %+v", access)
	}
	if maps, _ := s.ListMaps(ctx, "friend"); len(maps) != 1 {
		t.Errorf("ListMaps(friend) = %v", maps)
	}
	if err := s.RevokeAccess(ctx, m.ID, "friend"); err != nil {
		t.Errorf("RevokeAccess failed: %v", err)
	}
	if level, _ := s.AccessLevel(ctx, m.ID, "friend"); level != LevelNone {
		t.Errorf("revoked level = %q", level)
	}

	m.IsPublic = true
	if _, err := s.UpdateMap(ctx, m); err != nil {
		t.Fatalf("UpdateMap failed: %v", err)
	}
	if level, _ := s.AccessLevel(ctx, m.ID, "anyone"); level != LevelViewer {
		t.Errorf("public map level = %q, want viewer", level)
	}

	// re-import replaces wholesale
	if _, err := s.ReplaceGroups(ctx, m.ID, importedGroups()[:1]); err != nil {
		t.Fatalf("second ReplaceGroups failed: %v", err)
	}
	if groups, _ := s.ListGroups(ctx, m.ID); len(groups) != 1 {
		t.Errorf("groups after re-import = %d, want 1", len(groups))
	}
	if _, err := s.ReplaceGroups(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReplaceGroups missing map error = %v", err)
	}

	if err := s.DeleteMap(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMap failed: %v", err)
	}
	if _, err := s.GetMap(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMap after delete error = %v", err)
	}
	if _, err := s.AccessLevel(ctx, m.ID, "owner"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AccessLevel after delete error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemory())
}

func TestPostgresStore(t *testing.T) {
	connString := os.Getenv("MAPCIRCLE_TEST_DB_URL")
	if connString == "" {
		t.Skip("MAPCIRCLE_TEST_DB_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, connString, "mapcircle_test", 4)
	if err != nil {
		t.Fatalf("NewPostgres failed: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	testStoreContract(t, s)
}

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"owner", "editor", "viewer"} {
		if l, err := ParseLevel(in); err != nil || string(l) != in {
			t.Errorf("ParseLevel(%q) = %q, %v", in, l, err)
		}
	}
	if _, err := ParseLevel("root"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseLevel(root) error = %v", err)
	}
	if !LevelEditor.CanWrite() || LevelViewer.CanWrite() || !LevelViewer.CanRead() || LevelNone.CanRead() {
		t.Error("unexpected level permissions")
	}
}
