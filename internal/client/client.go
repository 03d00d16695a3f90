// Package client is the HTTP client side of the feature wire protocol.
// The viewport sync controller and the mutation pipeline talk to the
// server exclusively through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geofeatures/server/internal/geojson"
)

// DefaultTimeout bounds a single request when the caller's context
// carries no deadline of its own.
const DefaultTimeout = 10 * time.Second

// RequestError is returned for any non-2xx response. The server writes
// plain-text error bodies; they are carried verbatim so callers can
// surface them to the user unchanged.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// FeaturePayload is the body of a create or update request. Nil fields
// are omitted, so a partial update only touches what it names.
type FeaturePayload struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	GeoJSON     *geojson.Geometry `json:"geojson,omitempty"`
	Lat         *float64          `json:"lat,omitempty"`
	Lon         *float64          `json:"lon,omitempty"`
}

// Client issues feature requests against a single server base URL.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout applied when the caller's
// context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the given base URL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchFeatures retrieves the features matching box. A zero box fetches
// everything.
func (c *Client) FetchFeatures(ctx context.Context, box geojson.BBox) (geojson.FeatureCollection, error) {
	u := c.baseURL + "/features"
	if box != (geojson.BBox{}) && box.Valid() {
		params := url.Values{}
		params.Set("bbox", formatBBox(box))
		u += "?" + params.Encode()
	}

	var fc geojson.FeatureCollection
	if err := c.do(ctx, http.MethodGet, u, nil, &fc); err != nil {
		return geojson.FeatureCollection{}, err
	}
	if fc.Features == nil {
		fc.Features = []geojson.Feature{}
	}
	return fc, nil
}

// FetchNear retrieves features within radiusMeters of a point, closest
// first. A non-positive radius lets the server apply its default.
func (c *Client) FetchNear(ctx context.Context, lat, lon, radiusMeters float64) (geojson.FeatureCollection, error) {
	params := url.Values{}
	params.Set("near", formatCoord(lat)+","+formatCoord(lon))
	if radiusMeters > 0 {
		params.Set("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64))
	}

	var fc geojson.FeatureCollection
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/features?"+params.Encode(), nil, &fc); err != nil {
		return geojson.FeatureCollection{}, err
	}
	if fc.Features == nil {
		fc.Features = []geojson.Feature{}
	}
	return fc, nil
}

// CreateFeature stores a new feature and returns its server-assigned id.
func (c *Client) CreateFeature(ctx context.Context, payload FeaturePayload) (string, error) {
	var ack struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/features", payload, &ack); err != nil {
		return "", err
	}
	if ack.ID == "" {
		return "", fmt.Errorf("create acknowledged without an id")
	}
	return ack.ID, nil
}

// UpdateFeature applies a partial update. Updating an id the server no
// longer knows is not an error.
func (c *Client) UpdateFeature(ctx context.Context, id string, payload FeaturePayload) error {
	return c.do(ctx, http.MethodPut, c.baseURL+"/features/"+url.PathEscape(id), payload, nil)
}

// DeleteFeature removes a feature. Deleting an already-deleted id is
// not an error.
func (c *Client) DeleteFeature(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/features/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, payload, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RequestError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func formatBBox(box geojson.BBox) string {
	return formatCoord(box.West) + "," + formatCoord(box.South) + "," +
		formatCoord(box.East) + "," + formatCoord(box.North)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
