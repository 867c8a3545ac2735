package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

// Memory is an in-process Store used when no database is configured
type Memory struct {
	mu       sync.RWMutex
	maps     map[string]Map
	groups   map[string]StoredGroup // points are kept in the points map
	points   map[string]StoredPoint
	order    map[string]int // point insertion sequence
	comments map[string]Comment
	access   map[string]map[string]Level // map id -> user id -> level
	seq      int
	now      func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		maps:     make(map[string]Map),
		groups:   make(map[string]StoredGroup),
		points:   make(map[string]StoredPoint),
		order:    make(map[string]int),
		comments: make(map[string]Comment),
		access:   make(map[string]map[string]Level),
		now:      time.Now,
	}
}

func (m *Memory) CreateMap(_ context.Context, mp Map) (Map, error) {
	if err := validateMap(mp); err != nil {
		return Map{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if mp.ID == "" {
		mp.ID = uuid.NewString()
	}
	now := m.now().UTC()
	mp.CreatedAt, mp.UpdatedAt = now, now
	m.maps[mp.ID] = mp
	m.access[mp.ID] = map[string]Level{mp.OwnerID: LevelOwner}
	return mp, nil
}

func (m *Memory) GetMap(_ context.Context, id string) (Map, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.maps[id]
	if !ok {
		return Map{}, ErrNotFound
	}
	return mp, nil
}

func (m *Memory) ListMaps(_ context.Context, userID string) ([]Map, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Map{}
	for id, mp := range m.maps {
		if _, ok := m.access[id][userID]; ok {
			out = append(out, mp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateMap(_ context.Context, mp Map) (Map, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.maps[mp.ID]
	if !ok {
		return Map{}, ErrNotFound
	}
	if mp.Name != "" {
		existing.Name = mp.Name
	}
	existing.Description = mp.Description
	existing.IsPublic = mp.IsPublic
	existing.UpdatedAt = m.now().UTC()
	m.maps[mp.ID] = existing
	return existing, nil
}

func (m *Memory) DeleteMap(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.maps[id]; !ok {
		return ErrNotFound
	}
	for gid, g := range m.groups {
		if g.MapID == id {
			m.deleteGroupLocked(gid)
		}
	}
	delete(m.maps, id)
	delete(m.access, id)
	return nil
}

func (m *Memory) ReplaceGroups(_ context.Context, mapID string, groups []kml.Group) ([]StoredGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.maps[mapID]; !ok {
		return nil, ErrNotFound
	}
	for gid, g := range m.groups {
		if g.MapID == mapID {
			m.deleteGroupLocked(gid)
		}
	}

	out := make([]StoredGroup, 0, len(groups))
	for i, g := range groups {
		sg := groupDefaults(StoredGroup{
			ID:            uuid.NewString(),
			MapID:         mapID,
			Name:          g.Name,
			Color:         g.Color,
			DefaultRadius: g.DefaultRadius,
			SortOrder:     i,
			Polygons:      g.Polygons,
		})
		stored := sg
		stored.Points = nil
		m.groups[sg.ID] = stored

		for _, p := range g.Points {
			sp := m.insertPointLocked(pointDefaults(StoredPoint{
				GroupID: sg.ID,
				Name:    p.Name,
				Lat:     p.Lat,
				Lng:     p.Lng,
			}))
			sg.Points = append(sg.Points, sp)
		}
		out = append(out, sg)
	}
	m.touchLocked(mapID)
	return out, nil
}

func (m *Memory) ListGroups(_ context.Context, mapID string) ([]StoredGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []StoredGroup{}
	for _, g := range m.groups {
		if g.MapID == mapID {
			out = append(out, m.withPointsLocked(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetGroup(_ context.Context, id string) (StoredGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return StoredGroup{}, ErrNotFound
	}
	return m.withPointsLocked(g), nil
}

func (m *Memory) UpdateGroup(_ context.Context, g StoredGroup) (StoredGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.groups[g.ID]
	if !ok {
		return StoredGroup{}, ErrNotFound
	}
	if g.Name != "" {
		existing.Name = g.Name
	}
	if g.Color != "" {
		existing.Color = g.Color
	}
	if g.DefaultRadius > 0 {
		existing.DefaultRadius = g.DefaultRadius
	}
	if g.Type != "" {
		existing.Type = g.Type
	}
	existing.SortOrder = g.SortOrder
	if g.Polygons != nil {
		existing.Polygons = storablePolygons(g.Polygons)
	}
	m.groups[g.ID] = existing
	m.touchLocked(existing.MapID)
	return m.withPointsLocked(existing), nil
}

func (m *Memory) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return ErrNotFound
	}
	m.deleteGroupLocked(id)
	m.touchLocked(g.MapID)
	return nil
}

func (m *Memory) AddPoint(_ context.Context, p StoredPoint) (StoredPoint, error) {
	if err := validatePoint(p); err != nil {
		return StoredPoint{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[p.GroupID]; !ok {
		return StoredPoint{}, ErrNotFound
	}
	p.ID = ""
	return m.insertPointLocked(pointDefaults(p)), nil
}

func (m *Memory) GetPoint(_ context.Context, id string) (StoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	if !ok {
		return StoredPoint{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) MovePoint(_ context.Context, pointID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.points[pointID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.groups[groupID]; !ok {
		return ErrNotFound
	}
	p.GroupID = groupID
	m.points[pointID] = p
	return nil
}

func (m *Memory) DeletePoint(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.points[id]; !ok {
		return ErrNotFound
	}
	m.deletePointLocked(id)
	return nil
}

func (m *Memory) AddComment(_ context.Context, c Comment) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.points[c.PointID]; !ok {
		return Comment{}, ErrNotFound
	}
	c.ID = uuid.NewString()
	c.CreatedAt = m.now().UTC()
	m.comments[c.ID] = c
	return c, nil
}

func (m *Memory) GetComment(_ context.Context, id string) (Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListComments(_ context.Context, pointID string) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Comment{}
	for _, c := range m.comments {
		if c.PointID == pointID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteComment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[id]; !ok {
		return ErrNotFound
	}
	delete(m.comments, id)
	return nil
}

func (m *Memory) GrantAccess(_ context.Context, a Access) error {
	if _, err := ParseLevel(string(a.Level)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.maps[a.MapID]; !ok {
		return ErrNotFound
	}
	if m.access[a.MapID] == nil {
		m.access[a.MapID] = make(map[string]Level)
	}
	m.access[a.MapID][a.UserID] = a.Level
	return nil
}

func (m *Memory) RevokeAccess(_ context.Context, mapID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.access[mapID][userID]; !ok {
		return ErrNotFound
	}
	delete(m.access[mapID], userID)
	return nil
}

func (m *Memory) ListAccess(_ context.Context, mapID string) ([]Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Access{}
	for userID, level := range m.access[mapID] {
		out = append(out, Access{MapID: mapID, UserID: userID, Level: level})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) AccessLevel(_ context.Context, mapID, userID string) (Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, ok := m.maps[mapID]
	if !ok {
		return LevelNone, ErrNotFound
	}
	if level, ok := m.access[mapID][userID]; ok {
		return level, nil
	}
	if mp.IsPublic {
		return LevelViewer, nil
	}
	return LevelNone, nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) insertPointLocked(p StoredPoint) StoredPoint {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = m.now().UTC()
	m.seq++
	m.order[p.ID] = m.seq
	m.points[p.ID] = p
	return p
}

func (m *Memory) deletePointLocked(id string) {
	for cid, c := range m.comments {
		if c.PointID == id {
			delete(m.comments, cid)
		}
	}
	delete(m.points, id)
	delete(m.order, id)
}

func (m *Memory) deleteGroupLocked(id string) {
	for pid, p := range m.points {
		if p.GroupID == id {
			m.deletePointLocked(pid)
		}
	}
	delete(m.groups, id)
}

func (m *Memory) withPointsLocked(g StoredGroup) StoredGroup {
	g.Points = []StoredPoint{}
	for _, p := range m.points {
		if p.GroupID == g.ID {
			g.Points = append(g.Points, p)
		}
	}
	sort.Slice(g.Points, func(i, j int) bool {
		return m.order[g.Points[i].ID] < m.order[g.Points[j].ID]
	})
	g.Polygons = append([]kml.Polygon{}, g.Polygons...)
	return g
}

func (m *Memory) touchLocked(mapID string) {
	if mp, ok := m.maps[mapID]; ok {
		mp.UpdatedAt = m.now().UTC()
		m.maps[mapID] = mp
	}
}

var _ Store = (*Memory)(nil)
