package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civicmap/civicmap/app/geo"
	"github.com/civicmap/civicmap/app/ratelimit"
	"github.com/civicmap/civicmap/app/region"
)

// Client resolves free-text place names into coordinates via a
// Nominatim-style lookup service. All failures degrade to a nil result:
// callers branch on "found or not", never on transport errors.
type Client struct {
	httpClient *http.Client
	endpoint   string
	userAgent  string
	region     *region.Region
	gate       *ratelimit.Gate
}

// nominatimResult mirrors the lookup service's response rows. Nominatim
// serializes lat/lon as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func NewClient(httpClient *http.Client, r *region.Region, endpoint, userAgent string, rateInterval time.Duration) *Client {
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		userAgent:  userAgent,
		region:     r,
		gate:       ratelimit.NewGate(rateInterval),
	}
}

// RateInterval returns the minimum spacing between lookup calls.
func (c *Client) RateInterval() time.Duration {
	return c.gate.Interval()
}

// Run geocodes a single place name. Empty or whitespace-only input returns
// nil without touching the network or the rate gate. Results outside the
// region's bounding box are treated as misses.
func (c *Client) Run(ctx context.Context, placeName string) *geo.Coordinates {
	if strings.TrimSpace(placeName) == "" {
		return nil
	}

	if err := c.gate.Wait(ctx); err != nil {
		slog.Debug("Geocode rate gate interrupted", "place", placeName, "error", err)
		return nil
	}

	result, err := c.lookup(ctx, placeName)
	if err != nil {
		slog.Warn("Geocoding lookup failed", "place", placeName, "error", err)
		return nil
	}
	if result == nil {
		slog.Debug("Geocoding returned no results", "place", placeName)
		return nil
	}

	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		slog.Warn("Geocoding returned unparseable latitude", "place", placeName, "lat", result.Lat)
		return nil
	}
	lon, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		slog.Warn("Geocoding returned unparseable longitude", "place", placeName, "lon", result.Lon)
		return nil
	}

	if !c.region.Box.Contains(lat, lon) {
		slog.Debug("Geocoded point outside region, treating as miss",
			"place", placeName, "lat", lat, "lon", lon)
		return nil
	}

	return &geo.Coordinates{
		Lat:         lat,
		Lon:         lon,
		Source:      geo.SourceGeocoded,
		DisplayName: result.DisplayName,
	}
}

// RunBatch geocodes a sequence of place names strictly sequentially (the
// shared rate gate makes concurrency pointless) and preserves input order,
// including nil entries for empty inputs and misses.
func (c *Client) RunBatch(ctx context.Context, placeNames []string) []*geo.Coordinates {
	results := make([]*geo.Coordinates, len(placeNames))
	for i, name := range placeNames {
		results[i] = c.Run(ctx, name)
	}
	return results
}

func (c *Client) lookup(ctx context.Context, placeName string) (*nominatimResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", placeName)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("countrycodes", c.region.CountryCode)

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch geocoding result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var results []nominatimResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	return &results[0], nil
}
