// Package nominatim resolves place names to coordinates with the OpenStreetMap Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/observability"
)

// ErrInvalidCoordinates is returned when Nominatim answers with coordinates that cannot be used.
var ErrInvalidCoordinates = errors.New("nominatim: invalid coordinates in response")

// Options configures the Nominatim client.
type Options struct {
	// BaseURL is the Nominatim server (default: https://nominatim.openstreetmap.org).
	BaseURL string
	// UserAgent identifies the application; the public server rejects requests without one.
	UserAgent string
	// RateLimit is the maximum requests per second (default: 1, the public usage policy).
	RateLimit float64
	// CacheSize is the number of resolved places kept in memory (0 disables caching).
	CacheSize int
	// CacheTTL bounds how long a resolved place is reused.
	CacheTTL time.Duration
	// RetryMax is the maximum number of retries (default: 2).
	RetryMax int
	// Timeout is the HTTP client timeout (default: 10 seconds).
	Timeout time.Duration
	// CacheMetrics records geocode cache hits and misses. May be nil.
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

type lookup struct {
	point geo.Point
	found bool
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Client is a rate-limited, caching Nominatim geocoder.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, lookup]
	sf         singleflight.Group
	metrics    observability.CacheMetrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://nominatim.openstreetmap.org"
	}

	if opts.UserAgent == "" {
		opts.UserAgent = "floatchat_geocoder"
	}

	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = 2
	}

	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	c := &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		httpClient: retryClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		metrics:    opts.CacheMetrics,
		logger:     opts.Logger,
	}

	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, lookup](opts.CacheSize, nil, opts.CacheTTL)
	}

	return c
}

// Geocode returns the coordinates of the best match for place. ok is false when nothing matched.
// Both matches and misses are cached; errors are not.
func (c *Client) Geocode(ctx context.Context, place string) (geo.Point, bool, error) {
	key := strings.ToLower(strings.Join(strings.Fields(place), " "))
	if key == "" {
		return geo.Point{}, false, nil
	}

	if c.cache != nil {
		if res, ok := c.cache.Get(key); ok {
			c.recordCache(ctx, true)

			return res.point, res.found, nil
		}

		c.recordCache(ctx, false)
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		res, err := c.search(ctx, key)
		if err != nil {
			return lookup{}, err
		}

		if c.cache != nil {
			c.cache.Add(key, res)
		}

		return res, nil
	})
	if err != nil {
		return geo.Point{}, false, err
	}

	res, _ := v.(lookup)

	return res.point, res.found, nil
}

func (c *Client) recordCache(ctx context.Context, hit bool) {
	if c.metrics == nil {
		return
	}

	if hit {
		c.metrics.RecordHit(ctx, observability.CacheGeocode)
	} else {
		c.metrics.RecordMiss(ctx, observability.CacheGeocode)
	}
}

func (c *Client) search(ctx context.Context, place string) (lookup, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return lookup{}, fmt.Errorf("nominatim rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("q", place)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return lookup{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lookup{}, fmt.Errorf("nominatim search: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return lookup{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return lookup{}, fmt.Errorf("nominatim search failed with status %d: %s", resp.StatusCode, string(body))
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return lookup{}, fmt.Errorf("failed to unmarshal search results: %w", err)
	}

	if len(results) == 0 {
		return lookup{}, nil
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(results[0].Lon, 64)

	point := geo.Point{Lat: lat, Lon: lon}
	if latErr != nil || lonErr != nil || !point.Valid() {
		return lookup{}, fmt.Errorf("%w: lat=%q lon=%q", ErrInvalidCoordinates, results[0].Lat, results[0].Lon)
	}

	c.logger.DebugContext(ctx, "geocoded place", "place", place, "match", results[0].DisplayName)

	return lookup{point: point, found: true}, nil
}
