package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/export"
	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/mapstate"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// ParseResponse is the result of an import
type ParseResponse struct {
	Groups []kml.Group `json:"groups"`
	Center [2]float64  `json:"center"`
	Stats  kml.Stats   `json:"stats"`
}

func (s *Server) newParseResponse(res *kml.Result) ParseResponse {
	return ParseResponse{
		Groups: res.Groups,
		Center: geo.CentroidOr(res.Groups, s.cfg.FallbackCenter),
		Stats:  res.Stats,
	}
}

// readUpload reads the multipart "file" field within the download cap
func (s *Server) readUpload(r *http.Request) (string, []byte, error) {
	maxBytes := s.cfg.MaxDownloadBytes()
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return "", nil, NewAPIError(ErrInvalidInput.Code, "Expected a multipart form with a file", http.StatusBadRequest, err.Error())
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, NewAPIError(ErrInvalidInput.Code, "Missing file field", http.StatusBadRequest, err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", nil, NewAPIError("TOO_LARGE", "Uploaded file is too large", http.StatusRequestEntityTooLarge)
	}
	return header.Filename, data, nil
}

// parseFile parses an uploaded document, wrapping markup errors for the client
func (s *Server) parseFile(name string, data []byte) (*kml.Result, error) {
	res, err := kml.ParseBytes(name, data, s.importOptions())
	if err != nil {
		apiErr := FromError(err)
		if apiErr.Status == http.StatusInternalServerError {
			return nil, NewAPIError("PARSE_ERROR", "Error parsing file", http.StatusUnprocessableEntity, err.Error())
		}
		return nil, apiErr
	}
	if err := s.postProcess(res); err != nil {
		return nil, err
	}
	s.log.Info("Parsed upload",
		zap.String("file", name),
		zap.Int("groups", len(res.Groups)),
		zap.Int("points", res.Stats.Points),
		zap.Int("polygons", res.Stats.Polygons),
		zap.Int("skipped", res.Stats.Skipped()))
	return res, nil
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, s.newParseResponse(res))
}

type parseURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) parseURL(w http.ResponseWriter, r *http.Request) {
	var req parseURLRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		WriteError(w, invalid("url is required"))
		return
	}

	res, err := s.fetcher.Load(r.Context(), req.URL, s.importOptions())
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.postProcess(res); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.newParseResponse(res))
}

// groupsRequest carries groups in either the parsed or the persisted field naming
type groupsRequest struct {
	Groups json.RawMessage `json:"groups"`
}

func (g groupsRequest) decode() ([]kml.Group, error) {
	if len(g.Groups) == 0 {
		return []kml.Group{}, nil
	}
	groups, err := store.DecodeGroups(g.Groups)
	if err != nil {
		return nil, NewAPIError(ErrInvalidInput.Code, "Invalid groups", http.StatusBadRequest, err.Error())
	}
	return groups, nil
}

type visibleRequest struct {
	groupsRequest
	Bounds geo.Bounds `json:"bounds"`
	Hidden []string   `json:"hidden"`
}

type visibleResponse struct {
	Points []geo.VisiblePoint `json:"points"`
	Count  int                `json:"count"`
}

func (s *Server) visible(w http.ResponseWriter, r *http.Request) {
	var req visibleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	groups, err := req.decode()
	if err != nil {
		WriteError(w, err)
		return
	}

	hidden := make(map[string]bool, len(req.Hidden))
	for _, id := range req.Hidden {
		hidden[id] = true
	}
	// a malformed rectangle contains nothing
	points := geo.PointsInBounds(req.Bounds, groups, func(id string) bool { return !hidden[id] })
	writeJSON(w, http.StatusOK, visibleResponse{Points: points, Count: len(points)})
}

func (s *Server) centroid(w http.ResponseWriter, r *http.Request) {
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
	resp := map[string]any{"center": geo.CentroidOr(groups, s.cfg.FallbackCenter)}
	if b, ok := geo.BoundsOf(groups); ok {
		resp["bounds"] = b
	}
	writeJSON(w, http.StatusOK, resp)
}

type exportRequest struct {
	groupsRequest
	Name     string                            `json:"name"`
	Settings map[string]mapstate.GroupSettings `json:"settings"`
}

func (s *Server) exportGroups(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	groups, err := req.decode()
	if err != nil {
		WriteError(w, err)
		return
	}
	name := req.Name
	if name == "" {
		name = "mapcircle"
	}
	s.writeExport(w, r, name, groups, req.Settings)
}

// writeExport streams groups in the format named by the "format" query parameter
func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, name string, groups []kml.Group, settings map[string]mapstate.GroupSettings) {
	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = "geojson"
	}

	switch format {
	case "geojson":
		fc := export.GeoJSON(groups, export.GeoJSONOptions{
			Settings: settings,
			Circles:  q.Get("circles") == "true",
		})
		data, err := fc.MarshalJSON()
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write(data)

	case "kml":
		var buf bytes.Buffer
		if err := export.KML(&buf, name, groups); err != nil {
			WriteError(w, NewAPIError(ErrInvalidInput.Code, "Groups cannot be exported as KML", http.StatusBadRequest, err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".kml"))
		w.Write(buf.Bytes())

	case "parquet":
		dir, err := os.MkdirTemp("", "mapcircle-export-")
		if err != nil {
			WriteError(w, err)
			return
		}
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "export.parquet")
		if _, err := export.Parquet(path, groups); err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".parquet"))
		http.ServeFile(w, r, path)

	default:
		WriteError(w, invalid("format must be geojson, kml or parquet"))
	}
}
