package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// countingStore records Close calls on a memory store
type countingStore struct {
	*store.Memory
	closed int
}

func (s *countingStore) Close() error {
	s.closed++
	return s.Memory.Close()
}

func TestStoreGroupsClosesStore(t *testing.T) {
	groups := []kml.Group{{
		ID: "g", Name: "Cafes", Color: "#FF5252", DefaultRadius: 1000,
		Points: []kml.Point{{Name: "a", Lat: 1, Lng: 2}},
	}}

	tests := []struct {
		name      string
		mapID     func(st *countingStore) string
		wantErr   error
		wantCount int
	}{
		{"stored", func(st *countingStore) string {
			m, err := st.CreateMap(context.Background(), store.Map{Name: "M", OwnerID: "u"})
			if err != nil {
				t.Fatalf("CreateMap failed: %v", err)
			}
			return m.ID
		}, nil, 1},
		{"unknown map", func(*countingStore) string { return "missing" }, store.ErrNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &countingStore{Memory: store.NewMemory()}
			open := func(context.Context) (store.Store, error) { return st, nil }

			n, err := storeGroups(context.Background(), open, tt.mapID(st), groups)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("storeGroups() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantCount {
				t.Errorf("storeGroups() = %d, want %d", n, tt.wantCount)
			}
			if st.closed != 1 {
				t.Errorf("store closed %d times, want 1", st.closed)
			}
		})
	}
}

func TestStoreGroupsOpenError(t *testing.T) {
	boom := errors.New("connection refused")
	open := func(context.Context) (store.Store, error) { return nil, boom }
	if _, err := storeGroups(context.Background(), open, "m", nil); !errors.Is(err, boom) {
		t.Errorf("storeGroups() error = %v, want %v", err, boom)
	}
}
