// Package fetch downloads KML and KMZ files from remote URLs.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

// KMZContentType is the registered media type of KMZ archives
const KMZContentType = "application/vnd.google-earth.kmz"

var (
	// ErrInvalidURL is returned for anything that is not an absolute http(s) URL
	ErrInvalidURL = errors.New("invalid URL format")
	// ErrUnreachable wraps transport failures; the file may need to be downloaded and uploaded instead
	ErrUnreachable = errors.New("could not reach URL, try downloading the file and uploading it")
	// ErrNotKML is returned when a non-archive response does not look like KML
	ErrNotKML = errors.New("response is not a KML document")
	// ErrTooLarge is returned when the response exceeds the download cap
	ErrTooLarge = errors.New("response exceeds maximum download size")
)

// StatusError reports a non-success HTTP response
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// Download is a fetched remote file
type Download struct {
	URL         string
	Name        string
	ContentType string
	Data        []byte
}

// IsKMZ reports whether the download is a KMZ archive, judged by URL or content type
func (d *Download) IsKMZ() bool {
	if strings.HasSuffix(strings.ToLower(d.Name), ".kmz") {
		return true
	}
	return strings.Contains(d.ContentType, KMZContentType)
}

// Fetcher downloads remote files
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// NewFetcher creates a fetcher with a request timeout and a response size cap
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes:  maxBytes,
		userAgent: "mapcircle-go/1.0",
	}
}

// WithClient replaces the HTTP client
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// Fetch downloads a file. There are no retries; failures surface immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	log := logger.Named("fetch")

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	log.Debug("Fetching remote file", zap.String("url", u.String()))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}

	log.Debug("Fetched remote file",
		zap.String("url", u.String()),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Int("bytes", len(data)))

	return &Download{
		URL:         u.String(),
		Name:        path.Base(u.Path),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Load fetches and parses a remote KML or KMZ file
func (f *Fetcher) Load(ctx context.Context, rawURL string, opts kml.Options) (*kml.Result, error) {
	d, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return Parse(d, opts)
}

// Parse decodes a download as KMZ or KML text
func Parse(d *Download, opts kml.Options) (*kml.Result, error) {
	var (
		result *kml.Result
		err    error
	)
	if d.IsKMZ() || kml.IsZip(d.Data) {
		result, err = kml.ParseKMZ(d.Data, opts)
	} else {
		if !bytes.Contains(d.Data, []byte("<kml")) && !bytes.Contains(d.Data, []byte("<Placemark")) {
			return nil, ErrNotKML
		}
		result, err = kml.ParseKML(d.Data, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := kml.ValidateResult(result); err != nil {
		return nil, err
	}
	return result, nil
}
