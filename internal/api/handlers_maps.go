package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/mapstate"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// requireLevel loads the caller's level on a map and checks it with allowed
func (s *Server) requireLevel(ctx context.Context, mapID string, allowed func(store.Level) bool) (string, store.Level, error) {
	userID, ok := UserID(ctx)
	if !ok {
		return "", store.LevelNone, ErrUnauthorized
	}
	level, err := s.store.AccessLevel(ctx, mapID, userID)
	if err != nil {
		return userID, store.LevelNone, err
	}
	if !allowed(level) {
		return userID, level, ErrForbidden
	}
	return userID, level, nil
}

func isOwner(l store.Level) bool { return l == store.LevelOwner }

func canRead(l store.Level) bool { return l.CanRead() }

func canWrite(l store.Level) bool { return l.CanWrite() }

// mapOfPoint resolves the point and the map it belongs to
func (s *Server) mapOfPoint(ctx context.Context, pointID string) (store.StoredPoint, string, error) {
	p, err := s.store.GetPoint(ctx, pointID)
	if err != nil {
		return store.StoredPoint{}, "", err
	}
	g, err := s.store.GetGroup(ctx, p.GroupID)
	if err != nil {
		return store.StoredPoint{}, "", err
	}
	return p, g.MapID, nil
}

func (s *Server) listMaps(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	maps, err := s.store.ListMaps(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"maps": maps, "count": len(maps)})
}

type mapRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

func (s *Server) createMap(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req mapRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	m, err := s.store.CreateMap(r.Context(), store.Map{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		OwnerID:     userID,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	s.log.Info("Map created", zap.String("map", m.ID), zap.String("owner", userID))
	writeJSON(w, http.StatusCreated, m)
}

// MapResponse is a map with its groups and the caller's view of it
type MapResponse struct {
	Map    store.Map           `json:"map"`
	Level  store.Level         `json:"level"`
	Groups []store.StoredGroup `json:"groups"`
	State  mapstate.State      `json:"state"`
}

func (s *Server) getMap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	_, level, err := s.requireLevel(r.Context(), id, canRead)
	if err != nil {
		WriteError(w, err)
		return
	}
	m, err := s.store.GetMap(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	groups, err := s.store.ListGroups(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	parsed := make([]kml.Group, 0, len(groups))
	for _, g := range groups {
		parsed = append(parsed, g.Group())
	}
	writeJSON(w, http.StatusOK, MapResponse{
		Map:    m,
		Level:  level,
		Groups: groups,
		State:  mapstate.FromGroups(parsed, s.cfg.FallbackCenter),
	})
}

func (s *Server) updateMap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, canWrite); err != nil {
		WriteError(w, err)
		return
	}
	var req mapRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	m, err := s.store.UpdateMap(r.Context(), store.Map{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, isOwner); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.store.DeleteMap(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// replaceGroups stores a parse result as the map's groups
func (s *Server) replaceGroups(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, canWrite); err != nil {
		WriteError(w, err)
		return
	}
	var req groupsRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	groups, err := req.decode()
	if err != nil {
		WriteError(w, err)
		return
	}
	s.saveGroups(w, r, id, groups)
}

// importIntoMap parses an uploaded file and replaces the map's groups with it
func (s *Server) importIntoMap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, canWrite); err != nil {
		WriteError(w, err)
		return
	}
	name, data, err := s.readUpload(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	res, err := s.parseFile(name, data)
	if err != nil {
		WriteError(w, err)
		return
	}
	s.saveGroups(w, r, id, res.Groups)
}

func (s *Server) saveGroups(w http.ResponseWriter, r *http.Request, mapID string, groups []kml.Group) {
	stored, err := s.store.ReplaceGroups(r.Context(), mapID, groups)
	if err != nil {
		WriteError(w, err)
		return
	}
	s.log.Info("Map groups replaced", zap.String("map", mapID), zap.Int("groups", len(stored)))
	writeJSON(w, http.StatusOK, map[string]any{"groups": stored, "count": len(stored)})
}

func (s *Server) exportMap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, canRead); err != nil {
		WriteError(w, err)
		return
	}
	m, err := s.store.GetMap(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	stored, err := s.store.ListGroups(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	groups := make([]kml.Group, 0, len(stored))
	for _, g := range stored {
		groups = append(groups, g.Group())
	}
	s.writeExport(w, r, m.Name, groups, nil)
}

func (s *Server) listAccess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, isOwner); err != nil {
		WriteError(w, err)
		return
	}
	grants, err := s.store.ListAccess(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access": grants})
}

type accessRequest struct {
	UserID string `json:"user_id"`
	Level  string `json:"level"`
}

func (s *Server) grantAccess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, err := s.requireLevel(r.Context(), id, isOwner); err != nil {
		WriteError(w, err)
		return
	}
	var req accessRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.UserID == "" {
		WriteError(w, invalid("user_id is required"))
		return
	}
	level, err := store.ParseLevel(req.Level)
	if err != nil {
		WriteError(w, err)
		return
	}
	grant := store.Access{MapID: id, UserID: req.UserID, Level: level}
	if err := s.store.GrantAccess(r.Context(), grant); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) revokeAccess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	callerID, _, err := s.requireLevel(r.Context(), id, isOwner)
	if err != nil {
		WriteError(w, err)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, invalid("user_id is required"))
		return
	}
	if userID == callerID {
		WriteError(w, invalid("owners cannot revoke their own access"))
		return
	}
	if err := s.store.RevokeAccess(r.Context(), id, userID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
