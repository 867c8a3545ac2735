package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wegman-software/mapcircle-go/internal/config"
	"github.com/wegman-software/mapcircle-go/internal/metrics"
	"github.com/wegman-software/mapcircle-go/internal/poi"
	"github.com/wegman-software/mapcircle-go/internal/script"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

const testSecret = "test-secret"

const minimalKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
<Folder><name>Test</name>
<Placemark><name>P1</name><Point><coordinates>30.5,50.5,0</coordinates></Point></Placemark>
</Folder>
</Document></kml>`

const emptyKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document><name>nothing</name></Document></kml>`

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, layer poi.Layer, city poi.City) ([]poi.POI, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	c := city.Bounds().Center()
	return []poi.POI{
		{ID: layer.Name + "/1", Name: "One", Layer: layer.Name, Kind: layer.PatternKind(), Lat: c[0], Lng: c[1]},
		{ID: layer.Name + "/2", Name: "Two", Layer: layer.Name, Kind: layer.PatternKind(), Lat: c[0] + 0.01, Lng: c[1] + 0.01},
	}, nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if opts.Store == nil {
		opts.Store = mem
	}
	if opts.Config == nil {
		cfg := config.DefaultConfig()
		cfg.JWTSecret = testSecret
		opts.Config = cfg
	}
	srv := httptest.NewServer(NewServer(opts).Router())
	t.Cleanup(srv.Close)
	return srv, mem
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func do(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func upload(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func TestHealth(t *testing.T) {
	collector := metrics.NewCollector(time.Second, nil)
	srv, _ := newTestServer(t, Options{Metrics: collector})

	resp := do(t, "GET", srv.URL+"/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["metrics"] == nil {
		t.Errorf("health = %v", body)
	}
	if collector.Snapshot().Requests < 1 {
		t.Error("request should be counted")
	}
}

func TestParseUpload(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := upload(t, srv.URL+"/api/parse", "test.kml", minimalKML)
	expectStatus(t, resp, http.StatusOK)
	res := decode[ParseResponse](t, resp)
	if len(res.Groups) != 1 || res.Groups[0].Name != "Test" {
		t.Fatalf("groups = %+v", res.Groups)
	}
	p := res.Groups[0].Points
	if len(p) != 1 || p[0].Name != "P1" || p[0].Lat != 50.5 || p[0].Lng != 30.5 {
		t.Errorf("points = %+v", p)
	}
	if res.Center != [2]float64{50.5, 30.5} {
		t.Errorf("center = %v", res.Center)
	}
	if res.Groups[0].Polygons == nil {
		t.Error("polygons should be an empty list")
	}
}

func TestParseUploadErrors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name     string
		filename string
		content  string
		status   int
		code     string
	}{
		{"unsupported", "points.csv", "a,b", http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{"no features", "empty.kml", emptyKML, http.StatusUnprocessableEntity, "NO_FEATURES"},
		{"bad archive", "broken.kmz", "not a zip", http.StatusUnprocessableEntity, "ARCHIVE_ERROR"},
		{"bad markup", "broken.kml", "<kml><Document>", http.StatusUnprocessableEntity, "PARSE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, srv.URL+"/api/parse", tt.filename, tt.content)
			expectStatus(t, resp, tt.status)
			apiErr := decode[APIError](t, resp)
			if apiErr.Code != tt.code {
				t.Errorf("code = %s, want %s", apiErr.Code, tt.code)
			}
			if apiErr.Message == "" {
				t.Error("message should be human readable")
			}
		})
	}
}

func TestParseUploadScript(t *testing.T) {
	rt := script.NewRuntime()
	defer rt.Close()
	if err := rt.LoadString(`function mapcircle.process_group(g) return { name = "Renamed" } end`); err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, Options{Script: rt})

	resp := upload(t, srv.URL+"/api/parse", "test.kml", minimalKML)
	expectStatus(t, resp, http.StatusOK)
	if res := decode[ParseResponse](t, resp); res.Groups[0].Name != "Renamed" {
		t.Errorf("name = %s, want Renamed", res.Groups[0].Name)
	}
}

func TestParseURL(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.kml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(minimalKML))
	}))
	defer remote.Close()

	srv, _ := newTestServer(t, Options{})

	resp := do(t, "POST", srv.URL+"/api/parse-url", "", map[string]string{"url": remote.URL + "/points.kml"})
	expectStatus(t, resp, http.StatusOK)
	if res := decode[ParseResponse](t, resp); len(res.Groups) != 1 {
		t.Errorf("groups = %d, want 1", len(res.Groups))
	}

	resp = do(t, "POST", srv.URL+"/api/parse-url", "", map[string]string{"url": remote.URL + "/missing.kml"})
	expectStatus(t, resp, http.StatusBadGateway)
	if apiErr := decode[APIError](t, resp); apiErr.Code != "REMOTE_STATUS" || !strings.Contains(apiErr.Message, "404") {
		t.Errorf("error = %+v", apiErr)
	}

	resp = do(t, "POST", srv.URL+"/api/parse-url", "", map[string]string{"url": "ftp://example.com/a.kml"})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestVisibleAndCentroid(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	groups := []map[string]any{{
		"id": "a", "name": "A", "color": "#FF5252",
		"points": []map[string]any{
			{"name": "in", "lat": 5, "lng": 5},
			{"name": "out", "lat": 20, "lng": 20},
		},
	}}
	bounds := map[string]float64{"south": 0, "west": 0, "north": 10, "east": 10}

	resp := do(t, "POST", srv.URL+"/api/visible", "", map[string]any{"bounds": bounds, "groups": groups})
	expectStatus(t, resp, http.StatusOK)
	vis := decode[struct {
		Count  int `json:"count"`
		Points []struct {
			Name    string `json:"name"`
			GroupID string `json:"groupId"`
		} `json:"points"`
	}](t, resp)
	if vis.Count != 1 || vis.Points[0].Name != "in" || vis.Points[0].GroupID != "a" {
		t.Errorf("visible = %+v", vis)
	}

	resp = do(t, "POST", srv.URL+"/api/visible", "", map[string]any{"bounds": bounds, "groups": groups, "hidden": []string{"a"}})
	expectStatus(t, resp, http.StatusOK)
	if n := decode[visibleResponse](t, resp).Count; n != 0 {
		t.Errorf("hidden group count = %d, want 0", n)
	}

	inverted := map[string]float64{"south": 10, "west": 0, "north": 0, "east": 10}
	resp = do(t, "POST", srv.URL+"/api/visible", "", map[string]any{"bounds": inverted, "groups": groups})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[visibleResponse](t, resp); got.Count != 0 || got.Points == nil || len(got.Points) != 0 {
		t.Errorf("inverted bounds = %+v, want empty point list", got)
	}

	resp = do(t, "POST", srv.URL+"/api/centroid", "", map[string]any{"groups": []any{}})
	expectStatus(t, resp, http.StatusOK)
	c := decode[struct {
		Center [2]float64 `json:"center"`
	}](t, resp)
	if c.Center != config.DefaultConfig().FallbackCenter {
		t.Errorf("empty centroid = %v, want fallback", c.Center)
	}
}

func TestExport(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	groups := []map[string]any{{
		"id": "a", "name": "A", "color": "#FF5252",
		"points": []map[string]any{{"name": "p", "lat": 43.2, "lng": 76.9}},
	}}

	tests := []struct {
		format      string
		status      int
		contentType string
	}{
		{"geojson", http.StatusOK, "application/geo+json"},
		{"kml", http.StatusOK, "application/vnd.google-earth.kml+xml"},
		{"parquet", http.StatusOK, "application/vnd.apache.parquet"},
		{"shapefile", http.StatusBadRequest, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			resp := do(t, "POST", srv.URL+"/api/export?circles=true&format="+tt.format, "", map[string]any{"groups": groups})
			expectStatus(t, resp, tt.status)
			if got := resp.Header.Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %s, want %s", got, tt.contentType)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/maps", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestJWT(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := do(t, "GET", srv.URL+"/api/maps", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "mallory"})
	bad, _ := forged.SignedString([]byte("other-secret"))
	req, _ := http.NewRequest("GET", srv.URL+"/api/maps", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	s, _ := noSub.SignedString([]byte(testSecret))
	req, _ = http.NewRequest("GET", srv.URL+"/api/maps", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = do(t, "GET", srv.URL+"/api/maps", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestMapLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	base := srv.URL + "/api"

	resp := do(t, "POST", base+"/maps", "alice", map[string]any{"name": "Almaty cafes"})
	expectStatus(t, resp, http.StatusCreated)
	m := decode[store.Map](t, resp)
	if m.OwnerID != "alice" {
		t.Fatalf("owner = %s", m.OwnerID)
	}

	resp = do(t, "POST", base+"/maps", "alice", map[string]any{"name": " "})
	expectStatus(t, resp, http.StatusBadRequest)

	// bob has no access to a private map
	expectStatus(t, do(t, "GET", base+"/maps/"+m.ID, "bob", nil), http.StatusForbidden)
	expectStatus(t, do(t, "GET", base+"/maps/missing", "bob", nil), http.StatusNotFound)

	expectStatus(t, do(t, "POST", base+"/maps/"+m.ID+"/access", "alice",
		map[string]string{"user_id": "bob", "level": "viewer"}), http.StatusOK)
	expectStatus(t, do(t, "POST", base+"/maps/"+m.ID+"/access", "alice",
		map[string]string{"user_id": "carol", "level": "admin"}), http.StatusBadRequest)

	// viewers read but cannot write
	expectStatus(t, do(t, "GET", base+"/maps/"+m.ID, "bob", nil), http.StatusOK)
	groups := []map[string]any{{
		"name": "Cafes", "default_color": "#0288D1", "default_radius": 750,
		"points": []map[string]any{{"name": "Central", "lat": 43.2389, "lng": 76.8897}},
	}}
	expectStatus(t, do(t, "PUT", base+"/maps/"+m.ID+"/groups", "bob", map[string]any{"groups": groups}), http.StatusForbidden)

	resp = do(t, "PUT", base+"/maps/"+m.ID+"/groups", "alice", map[string]any{"groups": groups})
	expectStatus(t, resp, http.StatusOK)
	replaced := decode[struct {
		Groups []store.StoredGroup `json:"groups"`
	}](t, resp)
	if len(replaced.Groups) != 1 || replaced.Groups[0].DefaultRadius != 750 || replaced.Groups[0].Color != "#0288D1" {
		t.Fatalf("stored groups = %+v", replaced.Groups)
	}
	g := replaced.Groups[0]

	resp = do(t, "PATCH", base+"/groups/"+g.ID, "alice", map[string]any{"color": "#7cb342", "default_radius": 500})
	expectStatus(t, resp, http.StatusOK)
	if updated := decode[store.StoredGroup](t, resp); updated.Color != "#7CB342" || updated.DefaultRadius != 500 || updated.Name != "Cafes" {
		t.Errorf("updated group = %+v", updated)
	}
	expectStatus(t, do(t, "PATCH", base+"/groups/"+g.ID, "alice", map[string]any{"color": "green"}), http.StatusBadRequest)
	sliver := []map[string]any{{"name": "s", "coordinates": [][2]float64{{43, 76}, {43, 77}, {43, 76}}}}
	expectStatus(t, do(t, "PATCH", base+"/groups/"+g.ID, "alice", map[string]any{"polygons": sliver}), http.StatusBadRequest)

	resp = do(t, "POST", base+"/groups/"+g.ID+"/points", "alice", map[string]any{"name": "Mega", "lat": 43.2075, "lng": 76.8914})
	expectStatus(t, resp, http.StatusCreated)
	p := decode[store.StoredPoint](t, resp)
	if p.Status != store.StatusActive {
		t.Errorf("status = %s", p.Status)
	}
	expectStatus(t, do(t, "POST", base+"/groups/"+g.ID+"/points", "alice", map[string]any{"lat": 91, "lng": 0}), http.StatusBadRequest)

	// viewers may comment; only author or owner delete
	resp = do(t, "POST", base+"/points/"+p.ID+"/comments", "bob", map[string]string{"text": "closed on Mondays"})
	expectStatus(t, resp, http.StatusCreated)
	c := decode[store.Comment](t, resp)
	if c.UserID != "bob" {
		t.Errorf("comment author = %s", c.UserID)
	}
	resp = do(t, "GET", base+"/points/"+p.ID+"/comments", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if n := decode[struct {
		Count int `json:"count"`
	}](t, resp).Count; n != 1 {
		t.Errorf("comments = %d, want 1", n)
	}
	expectStatus(t, do(t, "DELETE", base+"/comments/"+c.ID, "alice", nil), http.StatusNoContent)

	resp = do(t, "GET", base+"/maps/"+m.ID+"/export?format=geojson", "bob", nil)
	expectStatus(t, resp, http.StatusOK)

	expectStatus(t, do(t, "DELETE", base+"/points/"+p.ID, "bob", nil), http.StatusForbidden)
	expectStatus(t, do(t, "DELETE", base+"/points/"+p.ID, "alice", nil), http.StatusNoContent)
	expectStatus(t, do(t, "DELETE", base+"/maps/"+m.ID+"/access?user_id=alice", "alice", nil), http.StatusBadRequest)
	expectStatus(t, do(t, "DELETE", base+"/maps/"+m.ID+"/access?user_id=bob", "alice", nil), http.StatusNoContent)
	expectStatus(t, do(t, "GET", base+"/maps/"+m.ID, "bob", nil), http.StatusForbidden)

	expectStatus(t, do(t, "DELETE", base+"/maps/"+m.ID, "alice", nil), http.StatusNoContent)
	expectStatus(t, do(t, "GET", base+"/maps/"+m.ID, "alice", nil), http.StatusNotFound)
}

func TestImportIntoMap(t *testing.T) {
	srv, mem := newTestServer(t, Options{})
	m, err := mem.CreateMap(context.Background(), store.Map{Name: "Imported", OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "test.kml")
	fw.Write([]byte(minimalKML))
	mw.Close()

	req, _ := http.NewRequest("POST", srv.URL+"/api/maps/"+m.ID+"/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	groups, err := mem.ListGroups(context.Background(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "Test" || len(groups[0].Points) != 1 {
		t.Errorf("stored groups = %+v", groups)
	}
}

func TestPOIEndpoints(t *testing.T) {
	unavailable, _ := newTestServer(t, Options{})
	expectStatus(t, do(t, "GET", unavailable.URL+"/api/pois/supermarket", "", nil), http.StatusServiceUnavailable)

	layers, err := poi.DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{}
	srv, _ := newTestServer(t, Options{Layers: layers, Collector: poi.NewCollector(fetcher, nil, 2)})

	resp := do(t, "GET", srv.URL+"/api/layers", "", nil)
	expectStatus(t, resp, http.StatusOK)
	info := decode[struct {
		Layers []layerInfo `json:"layers"`
		Cities []cityInfo  `json:"cities"`
	}](t, resp)
	if len(info.Layers) != len(layers.Layers) || len(info.Cities) != len(layers.Cities) {
		t.Errorf("layers = %d, cities = %d", len(info.Layers), len(info.Cities))
	}

	resp = do(t, "GET", srv.URL+"/api/pois/supermarket?city=kyiv", "", nil)
	expectStatus(t, resp, http.StatusOK)
	res := decode[POIResponse](t, resp)
	if res.Count != 2 || res.Layer != "supermarket" || len(res.Group.Points) != 2 {
		t.Errorf("pois = %+v", res)
	}

	expectStatus(t, do(t, "GET", srv.URL+"/api/pois/volcano?city=kyiv", "", nil), http.StatusNotFound)
	expectStatus(t, do(t, "GET", srv.URL+"/api/pois/supermarket?city=atlantis", "", nil), http.StatusNotFound)

	resp = do(t, "GET", srv.URL+"/api/heatmap?city=kyiv&layers=supermarket,cafe", "", nil)
	expectStatus(t, resp, http.StatusOK)
	h := decode[struct {
		Meta struct {
			POICount int `json:"poi_count"`
		} `json:"meta"`
		Cells []json.RawMessage `json:"cells"`
	}](t, resp)
	if len(h.Cells) == 0 {
		t.Error("heatmap should have cells")
	}

	resp = do(t, "GET", srv.URL+"/api/heatmap?city=kyiv&layers=office&day=0&hour=12", "", nil)
	expectStatus(t, resp, http.StatusOK)
	slice := decode[struct {
		Points []json.RawMessage `json:"points"`
	}](t, resp)
	if len(slice.Points) == 0 {
		t.Error("office slice at noon should not be empty")
	}

	expectStatus(t, do(t, "GET", srv.URL+"/api/heatmap?city=kyiv&day=7&hour=0", "", nil), http.StatusBadRequest)
	expectStatus(t, do(t, "GET", srv.URL+"/api/heatmap?city=kyiv&zoom=x", "", nil), http.StatusBadRequest)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var apiErr APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil || apiErr.Code != ErrInternal.Code {
		t.Errorf("body = %s", rec.Body.String())
	}
}
