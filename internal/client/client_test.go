package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geofeatures/server/internal/geojson"
)

func strPtr(s string) *string { return &s }

func TestFetchFeatures(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[106.8,-6.2]},"properties":{"id":"abc","name":"Cafe"}}]}`))
	}))
	defer server.Close()

	c := New(server.URL)
	box := geojson.BBox{West: 106.7, South: -6.3, East: 106.9, North: -6.1}
	fc, err := c.FetchFeatures(context.Background(), box)
	if err != nil {
		t.Fatalf("FetchFeatures failed: %v", err)
	}
	if gotQuery != "bbox=106.7%2C-6.3%2C106.9%2C-6.1" {
		t.Errorf("unexpected query string %q", gotQuery)
	}
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Cafe" {
		t.Errorf("unexpected collection: %+v", fc)
	}
}

func TestFetchFeaturesZeroBoxFetchesAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected no query parameters, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer server.Close()

	fc, err := New(server.URL).FetchFeatures(context.Background(), geojson.BBox{})
	if err != nil {
		t.Fatalf("FetchFeatures failed: %v", err)
	}
	if fc.Features == nil {
		t.Error("expected non-nil empty feature slice")
	}
}

func TestFetchNear(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("near"); got != "-6.21,106.82" {
			t.Errorf("unexpected near parameter %q", got)
		}
		if got := r.URL.Query().Get("radius"); got != "2000" {
			t.Errorf("unexpected radius parameter %q", got)
		}
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer server.Close()

	if _, err := New(server.URL).FetchNear(context.Background(), -6.21, 106.82, 2000); err != nil {
		t.Fatalf("FetchNear failed: %v", err)
	}
}

func TestCreateFeature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload["name"] != "Cafe" {
			t.Errorf("unexpected payload: %v", payload)
		}
		if _, ok := payload["description"]; ok {
			t.Error("nil description should be omitted from payload")
		}
		w.Write([]byte(`{"id":"65f1b2c3d4e5f60718293a4b"}`))
	}))
	defer server.Close()

	id, err := New(server.URL).CreateFeature(context.Background(), FeaturePayload{
		Name:    strPtr("Cafe"),
		GeoJSON: &geojson.Geometry{Type: "Point", Coordinates: json.RawMessage(`[106.82,-6.21]`)},
	})
	if err != nil {
		t.Fatalf("CreateFeature failed: %v", err)
	}
	if id != "65f1b2c3d4e5f60718293a4b" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestCreateFeatureMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if _, err := New(server.URL).CreateFeature(context.Background(), FeaturePayload{Name: strPtr("x")}); err == nil {
		t.Fatal("expected error for ack without id")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	var methods []string
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(server.URL)
	if err := c.UpdateFeature(context.Background(), "abc123", FeaturePayload{Name: strPtr("renamed")}); err != nil {
		t.Fatalf("UpdateFeature failed: %v", err)
	}
	if err := c.DeleteFeature(context.Background(), "abc123"); err != nil {
		t.Fatalf("DeleteFeature failed: %v", err)
	}

	if len(methods) != 2 || methods[0] != http.MethodPut || methods[1] != http.MethodDelete {
		t.Errorf("unexpected methods %v", methods)
	}
	for _, p := range paths {
		if p != "/features/abc123" {
			t.Errorf("unexpected path %q", p)
		}
	}
}

func TestErrorBodyVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nothing to update", http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL).UpdateFeature(context.Background(), "abc", FeaturePayload{})
	if err == nil {
		t.Fatal("expected error")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T", err)
	}
	if reqErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected status %d", reqErr.StatusCode)
	}
	if err.Error() != "nothing to update" {
		t.Errorf("expected verbatim body as error message, got %q", err.Error())
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := New(server.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.FetchFeatures(context.Background(), geojson.BBox{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request did not time out promptly (%v)", elapsed)
	}
}

func TestCallerDeadlineWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The client default is much longer; the caller's deadline must apply.
	c := New(server.URL, WithTimeout(30*time.Second))
	start := time.Now()
	if _, err := c.FetchFeatures(ctx, geojson.BBox{}); err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("caller deadline not honored (%v)", elapsed)
	}
}
