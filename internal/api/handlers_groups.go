package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// groupPatch holds optional group fields; absent fields are left unchanged
type groupPatch struct {
	Name          *string        `json:"name"`
	Color         *string        `json:"color"`
	DefaultRadius *int           `json:"default_radius"`
	Type          *string        `json:"type"`
	SortOrder     *int           `json:"sort_order"`
	Polygons      *[]kml.Polygon `json:"polygons"`
}

func (p groupPatch) apply(g store.StoredGroup) (store.StoredGroup, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return g, invalid("name cannot be empty")
		}
		g.Name = name
	}
	if p.Color != nil {
		if _, ok := kml.EncodeColor(*p.Color); !ok {
			return g, invalid("color must be #RRGGBB")
		}
		g.Color = strings.ToUpper(*p.Color)
	}
	if p.DefaultRadius != nil {
		if *p.DefaultRadius <= 0 {
			return g, invalid("default_radius must be positive")
		}
		g.DefaultRadius = *p.DefaultRadius
	}
	if p.Type != nil {
		g.Type = *p.Type
	}
	if p.SortOrder != nil {
		g.SortOrder = *p.SortOrder
	}
	if p.Polygons != nil {
		for _, poly := range *p.Polygons {
			if !kml.ValidRing(poly.Coordinates) {
				return g, invalid("polygons need at least 3 distinct vertices")
			}
		}
		g.Polygons = *p.Polygons
	}
	return g, nil
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, _, err := s.requireLevel(r.Context(), g.MapID, canWrite); err != nil {
		WriteError(w, err)
		return
	}

	var patch groupPatch
	if err := decodeJSON(r, &patch); err != nil {
		WriteError(w, err)
		return
	}
	g, err = patch.apply(g)
	if err != nil {
		WriteError(w, err)
		return
	}
	updated, err := s.store.UpdateGroup(r.Context(), g)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, _, err := s.requireLevel(r.Context(), g.MapID, canWrite); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.store.DeleteGroup(r.Context(), g.ID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pointRequest struct {
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Lat      float64        `json:"lat"`
	Lng      float64        `json:"lng"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) addPoint(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, _, err := s.requireLevel(r.Context(), g.MapID, canWrite); err != nil {
		WriteError(w, err)
		return
	}

	var req pointRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	switch req.Status {
	case "", store.StatusActive, store.StatusUnderReview:
	default:
		WriteError(w, invalid("status must be active or under_review"))
		return
	}

	p, err := s.store.AddPoint(r.Context(), store.StoredPoint{
		GroupID:  g.ID,
		Name:     strings.TrimSpace(req.Name),
		Address:  req.Address,
		Lat:      req.Lat,
		Lng:      req.Lng,
		Status:   req.Status,
		Metadata: req.Metadata,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type moveRequest struct {
	GroupID string `json:"group_id"`
}

// movePoint reassigns a point to another group of a map the caller can edit
func (s *Server) movePoint(w http.ResponseWriter, r *http.Request) {
	p, mapID, err := s.mapOfPoint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, _, err := s.requireLevel(r.Context(), mapID, canWrite); err != nil {
		WriteError(w, err)
		return
	}

	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	target, err := s.store.GetGroup(r.Context(), req.GroupID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if target.MapID != mapID {
		if _, _, err := s.requireLevel(r.Context(), target.MapID, canWrite); err != nil {
			WriteError(w, err)
			return
		}
	}
	if err := s.store.MovePoint(r.Context(), p.ID, target.ID); err != nil {
		WriteError(w, err)
		return
	}
	p.GroupID = target.ID
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePoint(w http.ResponseWriter, r *http.Request) {
	p, mapID, err := s.mapOfPoint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, _, err := s.requireLevel(r.Context(), mapID, canWrite); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.store.DeletePoint(r.Context(), p.ID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	p, mapID, err := s.mapOfPoint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, _, err := s.requireLevel(r.Context(), mapID, canRead); err != nil {
		WriteError(w, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), p.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments, "count": len(comments)})
}

type commentRequest struct {
	Text string `json:"text"`
}

// addComment lets any user who can view the map annotate a point
func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	p, mapID, err := s.mapOfPoint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	userID, _, err := s.requireLevel(r.Context(), mapID, canRead)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		WriteError(w, invalid("text is required"))
		return
	}
	c, err := s.store.AddComment(r.Context(), store.Comment{PointID: p.ID, UserID: userID, Text: text})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// deleteComment allows the author or the map owner
func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetComment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	_, mapID, err := s.mapOfPoint(r.Context(), c.PointID)
	if err != nil {
		WriteError(w, err)
		return
	}
	userID, level, err := s.requireLevel(r.Context(), mapID, canRead)
	if err != nil {
		WriteError(w, err)
		return
	}
	if c.UserID != userID && level != store.LevelOwner {
		WriteError(w, ErrForbidden)
		return
	}
	if err := s.store.DeleteComment(r.Context(), c.ID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
