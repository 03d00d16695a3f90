package query

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/geofeatures/server/internal/geojson"
	"github.com/geofeatures/server/internal/store"
)

func TestParseFilterBBox(t *testing.T) {
	f := ParseFilter(url.Values{"bbox": {"106.7,-6.3,106.9,-6.1"}})
	if f.BBox == nil {
		t.Fatal("expected bbox filter")
	}
	want := geojson.BBox{West: 106.7, South: -6.3, East: 106.9, North: -6.1}
	if *f.BBox != want {
		t.Errorf("expected %+v, got %+v", want, *f.BBox)
	}
}

func TestParseFilterNear(t *testing.T) {
	t.Run("withRadius", func(t *testing.T) {
		f := ParseFilter(url.Values{"near": {"-6.21,106.82"}, "radius": {"750"}})
		if f.Near == nil {
			t.Fatal("expected near filter")
		}
		if f.Near.Lat != -6.21 || f.Near.Lon != 106.82 {
			t.Errorf("unexpected center: %+v", *f.Near)
		}
		if f.Near.MaxDistanceMeters != 750 {
			t.Errorf("expected radius 750, got %v", f.Near.MaxDistanceMeters)
		}
	})

	t.Run("defaultRadius", func(t *testing.T) {
		f := ParseFilter(url.Values{"near": {"-6.21, 106.82"}})
		if f.Near == nil {
			t.Fatal("expected near filter")
		}
		if f.Near.MaxDistanceMeters != DefaultNearRadiusMeters {
			t.Errorf("expected default radius %d, got %v", DefaultNearRadiusMeters, f.Near.MaxDistanceMeters)
		}
	})
}

// Malformed or missing filters degrade to "fetch everything", never error.
func TestParseFilterDegradesToUnfiltered(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
	}{
		{"empty", url.Values{}},
		{"bboxTooFewParts", url.Values{"bbox": {"1,2,3"}}},
		{"bboxNonNumeric", url.Values{"bbox": {"a,b,c,d"}}},
		{"nearOneCoord", url.Values{"near": {"-6.21"}}},
		{"nearNonNumeric", url.Values{"near": {"lat,lon"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ParseFilter(tt.params)
			if f.BBox != nil || f.Near != nil {
				t.Errorf("expected unfiltered query, got %+v", f)
			}
		})
	}
}

func TestToCollectionMergesProperties(t *testing.T) {
	features := []store.Feature{
		{
			ID:          "cafe000000000000000000aa",
			Name:        "Cafe",
			Description: "corner cafe",
			Geometry:    geojson.Geometry{Type: "Point", Coordinates: json.RawMessage(`[106.82,-6.21]`)},
			Properties: map[string]any{
				"floor": "2",
				// Store-side extras must not clobber the computed keys.
				"id":   "spoofed",
				"name": "spoofed",
			},
		},
	}

	fc := ToCollection(features)
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}

	props := fc.Features[0].Properties
	if props["id"] != "cafe000000000000000000aa" {
		t.Errorf("computed id overwritten: %v", props["id"])
	}
	if props["name"] != "Cafe" {
		t.Errorf("computed name overwritten: %v", props["name"])
	}
	if props["description"] != "corner cafe" {
		t.Errorf("computed description overwritten: %v", props["description"])
	}
	if props["floor"] != "2" {
		t.Errorf("extra property lost: %v", props["floor"])
	}
}

func TestToCollectionEmpty(t *testing.T) {
	fc := ToCollection(nil)
	if fc.Features == nil {
		t.Error("features slice must be non-nil so it serializes as []")
	}
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"type":"FeatureCollection","features":[]}` {
		t.Errorf("unexpected serialization: %s", data)
	}
}
