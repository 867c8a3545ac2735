package poi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

// DefaultEndpoint is the public Overpass API interpreter
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// UnknownName is used for elements without any name tag
const UnknownName = "Unknown"

// keptTags are copied onto each POI besides addr:*
var keptTags = []string{"name", "brand", "website", "phone", "opening_hours"}

// Client queries an Overpass API endpoint
type Client struct {
	endpoint   string
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates an Overpass client
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent:  "mapcircle-go/1.0",
		maxRetries: 2,
		retryDelay: 10 * time.Second,
	}
}

// WithHTTPClient replaces the HTTP client
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.client = h
	return c
}

// WithRetry sets the retry count and delay for overloaded servers
func (c *Client) WithRetry(maxRetries int, delay time.Duration) *Client {
	c.maxRetries = maxRetries
	c.retryDelay = delay
	return c
}

// BuildQuery builds an Overpass QL query returning nodes and ways with geometry
func BuildQuery(selectors []string, b geo.Bounds) (string, error) {
	if !b.Valid() {
		return "", fmt.Errorf("invalid bounds %+v", b)
	}
	bbox := strings.Join([]string{
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
	}, ",")

	var sb strings.Builder
	sb.WriteString("[out:xml][timeout:120];\n(\n")
	for _, sel := range selectors {
		key, value, err := parseSelector(sel)
		if err != nil {
			return "", err
		}
		clause := fmt.Sprintf(`["%s"="%s"]`, key, value)
		if value == "*" {
			clause = fmt.Sprintf(`["%s"]`, key)
		}
		fmt.Fprintf(&sb, "  node%s(%s);\n", clause, bbox)
		fmt.Fprintf(&sb, "  way%s(%s);\n", clause, bbox)
	}
	sb.WriteString(");\nout geom;\n")
	return sb.String(), nil
}

// Fetch collects one layer's POIs inside the city extent
func (c *Client) Fetch(ctx context.Context, layer Layer, city City) ([]POI, error) {
	log := logger.Named("poi")

	query, err := BuildQuery(layer.Query, city.Bounds())
	if err != nil {
		return nil, fmt.Errorf("failed to build query for layer %s: %w", layer.Name, err)
	}

	start := time.Now()
	resp, err := c.postWithRetry(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query layer %s: %w", layer.Name, err)
	}
	defer resp.Body.Close()

	pois, err := Decode(ctx, resp.Body, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to decode layer %s: %w", layer.Name, err)
	}

	log.Debug("Fetched layer",
		zap.String("layer", layer.Name),
		zap.String("city", city.Name),
		zap.Int("pois", len(pois)),
		zap.Duration("elapsed", time.Since(start)))
	return pois, nil
}

// postWithRetry sends the query as form data, retrying on 429 and server errors
func (c *Client) postWithRetry(ctx context.Context, query string) (*http.Response, error) {
	log := logger.Named("poi")
	form := url.Values{"data": {query}}.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Debug("Retrying Overpass query", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("overpass status: %d", resp.StatusCode)
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Decode reads an Overpass XML response into POIs. Nodes sit at their own
// location, ways at the mean of their node coordinates. Elements rejected by
// the layer filter are skipped and duplicates (same type/id) are dropped.
func Decode(ctx context.Context, r io.Reader, layer Layer) ([]POI, error) {
	filter := NewFilter(layer.Filter)
	scanner := osmxml.New(ctx, r)
	defer scanner.Close()

	seen := make(map[string]bool)
	var pois []POI

	for scanner.Scan() {
		var (
			id       string
			tags     osm.Tags
			lat, lng float64
		)
		switch o := scanner.Object().(type) {
		case *osm.Node:
			id = "node/" + strconv.FormatInt(int64(o.ID), 10)
			tags, lat, lng = o.Tags, o.Lat, o.Lon
		case *osm.Way:
			var ok bool
			if lat, lng, ok = wayCenter(o); !ok {
				continue
			}
			id = "way/" + strconv.FormatInt(int64(o.ID), 10)
			tags = o.Tags
		default:
			continue
		}

		if seen[id] {
			continue
		}
		tagMap := tags.Map()
		if !filter.Match(tagMap) {
			continue
		}
		seen[id] = true
		pois = append(pois, newPOI(id, layer, tagMap, lat, lng))
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if pois == nil {
		pois = []POI{}
	}
	return pois, nil
}

// wayCenter averages the way's node coordinates, skipping the closing node of a ring
func wayCenter(w *osm.Way) (lat, lng float64, ok bool) {
	nodes := w.Nodes
	if n := len(nodes); n > 1 && nodes[0].ID == nodes[n-1].ID && nodes[0].ID != 0 {
		nodes = nodes[:n-1]
	}
	count := 0
	for _, wn := range nodes {
		if wn.Lat == 0 && wn.Lon == 0 {
			continue
		}
		lat += wn.Lat
		lng += wn.Lon
		count++
	}
	if count == 0 {
		return 0, 0, false
	}
	return lat / float64(count), lng / float64(count), true
}

func newPOI(id string, layer Layer, tags map[string]string, lat, lng float64) POI {
	name := firstTag(tags, "name", "name:uk", "name:en")
	if name == "" {
		name = UnknownName
	}

	kept := make(map[string]string)
	for k, v := range tags {
		if strings.HasPrefix(k, "addr:") {
			kept[k] = v
		}
	}
	for _, k := range keptTags {
		if v, ok := tags[k]; ok {
			kept[k] = v
		}
	}

	return POI{
		ID:      id,
		Name:    name,
		Brand:   layer.BrandFor(name, tags),
		Layer:   layer.Name,
		Kind:    layer.PatternKind(),
		Lat:     lat,
		Lng:     lng,
		Address: strings.TrimSpace(tags["addr:street"] + " " + tags["addr:housenumber"]),
		Tags:    kept,
	}
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}
