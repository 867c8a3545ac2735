package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
<Folder><name>Test</name><Placemark><name>P1</name><Point><coordinates>30.5,50.5,0</coordinates></Point></Placemark></Folder>
</Document></kml>`

func sampleKMZ(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("doc.kml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(sampleKML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newServer(t *testing.T) *httptest.Server {
	kmz := sampleKMZ(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/points.kml", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
		w.Write([]byte(sampleKML))
	})
	mux.HandleFunc("/points.kmz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(kmz)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", KMZContentType)
		w.Write(kmz)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello</body></html>"))
	})
	mux.HandleFunc("/empty.kml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<kml><Document></Document></kml>`))
	})
	mux.HandleFunc("/big.kml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testOptions() kml.Options {
	opts := kml.DefaultOptions()
	opts.NewID = func(key string) string { return "group-" + key }
	return opts
}

func TestLoad(t *testing.T) {
	server := newServer(t)
	f := NewFetcher(5*time.Second, 1<<20)

	for _, p := range []string{"/points.kml", "/points.kmz", "/download"} {
		t.Run(p, func(t *testing.T) {
			result, err := f.Load(context.Background(), server.URL+p, testOptions())
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(result.Groups) != 1 || result.Groups[0].Name != "Test" {
				t.Fatalf("unexpected groups: %+v", result.Groups)
			}
			pt := result.Groups[0].Points[0]
			if pt.Lat != 50.5 || pt.Lng != 30.5 {
				t.Errorf("point = %+v", pt)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	server := newServer(t)
	f := NewFetcher(5*time.Second, 1024)

	tests := []struct {
		name  string
		url   string
		check func(error) bool
	}{
		{"invalid url", "not a url", func(err error) bool { return errors.Is(err, ErrInvalidURL) }},
		{"ftp scheme", "ftp://example.com/a.kml", func(err error) bool { return errors.Is(err, ErrInvalidURL) }},
		{"not found", server.URL + "/missing.kml", func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
		}},
		{"html page", server.URL + "/page.html", func(err error) bool { return errors.Is(err, ErrNotKML) }},
		{"no features", server.URL + "/empty.kml", func(err error) bool { return errors.Is(err, kml.ErrNoFeatures) }},
		{"too large", server.URL + "/big.kml", func(err error) bool { return errors.Is(err, ErrTooLarge) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Load(context.Background(), tt.url, testOptions())
			if err == nil || !tt.check(err) {
				t.Errorf("Load() error = %v", err)
			}
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	f := NewFetcher(time.Second, 0)
	_, err := f.Fetch(context.Background(), addr+"/points.kml")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Fetch() error = %v, want ErrUnreachable", err)
	}
}

func TestDownloadIsKMZ(t *testing.T) {
	tests := []struct {
		d    Download
		want bool
	}{
		{Download{Name: "a.kmz"}, true},
		{Download{Name: "A.KMZ"}, true},
		{Download{Name: "a.kml"}, false},
		{Download{Name: "download", ContentType: KMZContentType}, true},
		{Download{Name: "download", ContentType: "application/vnd.google-earth.kmz; charset=binary"}, true},
		{Download{Name: "download", ContentType: "text/xml"}, false},
	}
	for _, tt := range tests {
		if got := tt.d.IsKMZ(); got != tt.want {
			t.Errorf("IsKMZ(%+v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
