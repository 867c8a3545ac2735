package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/heatmap"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/poi"
)

type layerInfo struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Color string `json:"color"`
}

type cityInfo struct {
	Name   string     `json:"name"`
	Center [2]float64 `json:"center"`
}

func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	if s.layers == nil {
		WriteError(w, ErrUnavailable)
		return
	}
	layers := make([]layerInfo, 0, len(s.layers.Layers))
	for _, l := range s.layers.Layers {
		layers = append(layers, layerInfo{Name: l.Name, Kind: l.PatternKind(), Color: l.Color})
	}
	cities := make([]cityInfo, 0, len(s.layers.Cities))
	for _, c := range s.layers.Cities {
		cities = append(cities, cityInfo{Name: c.Name, Center: c.Bounds().Center()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": layers, "cities": cities})
}

// POIResponse is one collected layer, with the group form ready for display
type POIResponse struct {
	Layer string    `json:"layer"`
	City  string    `json:"city"`
	Count int       `json:"count"`
	POIs  []poi.POI `json:"pois"`
	Group kml.Group `json:"group"`
}

func (s *Server) getPOIs(w http.ResponseWriter, r *http.Request) {
	if s.layers == nil || s.collector == nil {
		WriteError(w, ErrUnavailable)
		return
	}
	layer, err := s.layers.Layer(mux.Vars(r)["layer"])
	if err != nil {
		WriteError(w, err)
		return
	}
	city, err := s.layers.City(r.URL.Query().Get("city"))
	if err != nil {
		WriteError(w, err)
		return
	}

	results, err := s.collector.Collect(r.Context(), []poi.Layer{layer}, city)
	if err != nil {
		WriteError(w, NewAPIError("POI_FETCH_FAILED", "Could not load points of interest", http.StatusBadGateway, err.Error()))
		return
	}
	res := results[0]
	writeJSON(w, http.StatusOK, POIResponse{
		Layer: layer.Name,
		City:  city.Name,
		Count: len(res.POIs),
		POIs:  res.POIs,
		Group: poi.ToGroup(layer, res.POIs),
	})
}

// getHeatmap synthesizes the activity heatmap of a city. With day and hour
// it returns the weighted points of that slot only.
func (s *Server) getHeatmap(w http.ResponseWriter, r *http.Request) {
	if s.layers == nil || s.collector == nil {
		WriteError(w, ErrUnavailable)
		return
	}
	q := r.URL.Query()

	city, err := s.layers.City(q.Get("city"))
	if err != nil {
		WriteError(w, err)
		return
	}
	zoom := heatmap.DefaultZoom
	if v := q.Get("zoom"); v != "" {
		zoom, err = strconv.Atoi(v)
		if err != nil || zoom < 1 || zoom > 20 {
			WriteError(w, invalid("zoom must be an integer between 1 and 20"))
			return
		}
	}

	var names []string
	if v := q.Get("layers"); v != "" {
		names = strings.Split(v, ",")
	}
	layers, err := s.layers.Select(names)
	if err != nil {
		WriteError(w, err)
		return
	}

	results, err := s.collector.Collect(r.Context(), layers, city)
	if err != nil {
		WriteError(w, NewAPIError("POI_FETCH_FAILED", "Could not load points of interest", http.StatusBadGateway, err.Error()))
		return
	}
	var pois []poi.POI
	for _, res := range results {
		pois = append(pois, res.POIs...)
	}
	h := heatmap.Build(city, pois, zoom)

	dayStr, hourStr := q.Get("day"), q.Get("hour")
	if dayStr == "" && hourStr == "" {
		writeJSON(w, http.StatusOK, h)
		return
	}
	day, errDay := strconv.Atoi(dayStr)
	hour, errHour := strconv.Atoi(hourStr)
	if errDay != nil || errHour != nil || day < 0 || day >= len(heatmap.Days) || hour < 0 || hour > 23 {
		WriteError(w, invalid("day must be 0-6 and hour 0-23"))
		return
	}
	points := h.Slice(day, hour)
	s.log.Debug("Heatmap slice", zap.String("city", city.Name), zap.Int("day", day), zap.Int("hour", hour), zap.Int("points", len(points)))
	writeJSON(w, http.StatusOK, map[string]any{"meta": h.Meta, "day": day, "hour": hour, "points": points})
}
