package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/geofeatures/server/internal/geojson"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "features.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreatePoint(t *testing.T, s *Store, name string, lat, lon float64) string {
	t.Helper()

	id, err := s.Create(context.Background(), name, "", geojson.FromLatLon(lat, lon), nil)
	if err != nil {
		t.Fatalf("failed to create %q: %v", name, err)
	}
	return id
}

func TestCreateAssignsHexID(t *testing.T) {
	s := newTestStore(t)

	id := mustCreatePoint(t, s, "Cafe", -6.21, 106.82)
	if len(id) != 24 {
		t.Fatalf("expected 24-char id, got %q (%d chars)", id, len(id))
	}
	if !featureIDPattern.MatchString(id) {
		t.Errorf("id %q is not lowercase hex", id)
	}
}

func TestCreateQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	geom := geojson.Geometry{Type: "Point", Coordinates: json.RawMessage(`[106.82,-6.21]`)}
	id, err := s.Create(context.Background(), "Cafe", "corner cafe", geom, map[string]any{"floor": "2"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	box := geojson.BBox{West: 106.7, South: -6.3, East: 106.9, North: -6.1}
	features, err := s.Query(context.Background(), Filter{BBox: &box})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}

	f := features[0]
	if f.ID != id {
		t.Errorf("expected id %q, got %q", id, f.ID)
	}
	if f.Name != "Cafe" || f.Description != "corner cafe" {
		t.Errorf("unexpected name/description: %q / %q", f.Name, f.Description)
	}
	lon, lat, err := f.Geometry.Point()
	if err != nil {
		t.Fatalf("geometry did not survive round trip: %v", err)
	}
	if lon != 106.82 || lat != -6.21 {
		t.Errorf("geometry mismatch: got lon=%v lat=%v", lon, lat)
	}
	if f.Properties["floor"] != "2" {
		t.Errorf("extra properties not preserved: %+v", f.Properties)
	}
	if f.CreatedAt.IsZero() || f.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}
}

func TestBBoxQueryContainment(t *testing.T) {
	s := newTestStore(t)

	// Three points inside the box, two outside.
	inside := []string{
		mustCreatePoint(t, s, "in1", -6.15, 106.75),
		mustCreatePoint(t, s, "in2", -6.20, 106.80),
		mustCreatePoint(t, s, "in3", -6.25, 106.85),
	}
	mustCreatePoint(t, s, "out1", -6.50, 106.80)
	mustCreatePoint(t, s, "out2", -6.20, 107.20)

	box := geojson.BBox{West: 106.7, South: -6.3, East: 106.9, North: -6.1}
	features, err := s.Query(context.Background(), Filter{BBox: &box})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(features) != 3 {
		t.Fatalf("expected exactly 3 features, got %d", len(features))
	}

	got := map[string]bool{}
	for _, f := range features {
		if f.ID == "" {
			t.Error("feature returned with empty id")
		}
		got[f.ID] = true
	}
	for _, id := range inside {
		if !got[id] {
			t.Errorf("expected feature %s in result", id)
		}
	}
}

func TestNearQuerySortedAndBounded(t *testing.T) {
	s := newTestStore(t)

	near := mustCreatePoint(t, s, "near", -6.2105, 106.8205)
	farther := mustCreatePoint(t, s, "farther", -6.22, 106.83)
	mustCreatePoint(t, s, "out-of-range", -6.90, 107.60)

	features, err := s.Query(context.Background(), Filter{
		Near: &NearFilter{Lat: -6.21, Lon: 106.82, MaxDistanceMeters: 5000},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(features) != 2 {
		t.Fatalf("expected 2 features within 5km, got %d", len(features))
	}
	if features[0].ID != near || features[1].ID != farther {
		t.Errorf("expected distance-sorted order [%s %s], got [%s %s]",
			near, farther, features[0].ID, features[1].ID)
	}
}

func TestUnfilteredQueryReturnsAll(t *testing.T) {
	s := newTestStore(t)

	mustCreatePoint(t, s, "a", 1, 1)
	mustCreatePoint(t, s, "b", 50, 50)

	features, err := s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(features) != 2 {
		t.Errorf("expected 2 features, got %d", len(features))
	}
}

func TestUpdateRefreshesGeometryAndIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustCreatePoint(t, s, "mover", 10, 10)

	created, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	geom := geojson.FromLatLon(-6.2, 106.8)
	name := "moved"
	if err := s.Update(ctx, id, UpdateFields{Name: &name, Geometry: &geom}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// The bounds index must track the new geometry: the old box misses it,
	// the new one finds it.
	oldBox := geojson.BBox{West: 9, South: 9, East: 11, North: 11}
	if features, _ := s.Query(ctx, Filter{BBox: &oldBox}); len(features) != 0 {
		t.Errorf("feature still indexed at old location: %d results", len(features))
	}
	newBox := geojson.BBox{West: 106.7, South: -6.3, East: 106.9, North: -6.1}
	features, _ := s.Query(ctx, Filter{BBox: &newBox})
	if len(features) != 1 {
		t.Fatalf("feature not indexed at new location: %d results", len(features))
	}
	if features[0].Name != "mover" && features[0].Name != "moved" {
		t.Fatalf("unexpected feature: %+v", features[0])
	}
	if features[0].Name != "moved" {
		t.Errorf("name not updated: %q", features[0].Name)
	}
	if !features[0].UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("updated_at not refreshed: %v -> %v", created.UpdatedAt, features[0].UpdatedAt)
	}
	if !features[0].CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at changed on update: %v -> %v", created.CreatedAt, features[0].CreatedAt)
	}
}

func TestUpdateMissingIDIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	name := "ghost"
	err := s.Update(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaa", UpdateFields{Name: &name})
	if err != nil {
		t.Errorf("update of missing id should succeed, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustCreatePoint(t, s, "doomed", 0, 0)
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Deleting an already-deleted id succeeds.
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("second delete should succeed, got %v", err)
	}

	if f, _ := s.Get(ctx, id); f != nil {
		t.Error("feature still present after delete")
	}
}

func TestInvalidIDRejectedBeforeStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "not-hex", "abc123", "ZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		if err := s.Delete(ctx, id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("delete(%q): expected ErrInvalidID, got %v", id, err)
		}
		if err := s.Update(ctx, id, UpdateFields{}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("update(%q): expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestGenerationAdvancesOnMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g0 := s.Generation()
	id := mustCreatePoint(t, s, "gen", 0, 0)
	if s.Generation() == g0 {
		t.Error("generation did not advance on create")
	}

	g1 := s.Generation()
	if _, err := s.Query(ctx, Filter{}); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if s.Generation() != g1 {
		t.Error("generation advanced on read")
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if s.Generation() == g1 {
		t.Error("generation did not advance on delete")
	}
}
