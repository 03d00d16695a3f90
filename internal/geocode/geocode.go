// Package geocode turns a clicked point into a human-readable label.
// Lookups are best effort: any failure falls back to coordinate text,
// and no error ever reaches the caller.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/geofeatures/server/internal/cache"
)

// DefaultBaseURL is the public Nominatim reverse endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org/reverse"

// DefaultTimeout bounds one reverse lookup.
const DefaultTimeout = 5 * time.Second

// Geocoder resolves coordinates to display labels, caching results so
// repeated clicks on the same spot stay off the network.
type Geocoder struct {
	baseURL string
	http    *http.Client
	cache   *cache.Manager
}

// Option configures a Geocoder.
type Option func(*Geocoder)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Geocoder) { g.http = hc }
}

// New creates a geocoder. A nil cache disables caching; an empty
// baseURL selects the public Nominatim endpoint.
func New(baseURL string, cacheManager *cache.Manager, opts ...Option) *Geocoder {
	g := &Geocoder{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		cache:   cacheManager,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Label returns a display label for the point. On any failure it
// returns the coordinate text instead; the error never propagates to
// the mutation path.
func (g *Geocoder) Label(ctx context.Context, lat, lon float64) string {
	key := cache.LabelKey(lat, lon)
	if g.cache != nil {
		if label, ok := g.cache.GetLabel(key); ok {
			return label
		}
	}

	label, err := g.lookup(ctx, lat, lon)
	if err != nil || label == "" {
		return coordinateText(lat, lon)
	}

	if g.cache != nil {
		g.cache.SetLabel(key, label)
	}
	return label
}

func (g *Geocoder) lookup(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "geofeatures-server")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode status %d", resp.StatusCode)
	}

	var result struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.DisplayName, nil
}

func coordinateText(lat, lon float64) string {
	return fmt.Sprintf("%.5f, %.5f", lat, lon)
}
