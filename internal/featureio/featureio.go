// Package featureio imports and exports feature collections as
// GeoJSON files, optionally gzip-compressed. Import is a thin consumer
// of the wire protocol: one create per feature, issued sequentially.
package featureio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/geofeatures/server/internal/client"
	"github.com/geofeatures/server/internal/geojson"
)

// Creator issues the create call for each imported feature.
// *client.Client satisfies it.
type Creator interface {
	CreateFeature(ctx context.Context, payload client.FeaturePayload) (string, error)
}

// ReadCollection decodes a FeatureCollection from r.
func ReadCollection(r io.Reader) (geojson.FeatureCollection, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return geojson.FeatureCollection{}, fmt.Errorf("decode collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return geojson.FeatureCollection{}, fmt.Errorf("not a FeatureCollection: %q", fc.Type)
	}
	if fc.Features == nil {
		fc.Features = []geojson.Feature{}
	}
	return fc, nil
}

// WriteCollection encodes fc to w.
func WriteCollection(w io.Writer, fc geojson.FeatureCollection) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	return nil
}

// Import creates every feature of the collection read from r, in
// order. It stops at the first failed create and returns the number of
// features created so far alongside the error.
func Import(ctx context.Context, r io.Reader, creator Creator) (int, error) {
	fc, err := ReadCollection(r)
	if err != nil {
		return 0, err
	}

	created := 0
	for i, f := range fc.Features {
		payload := payloadFor(f)
		if payload.GeoJSON == nil {
			return created, fmt.Errorf("feature %d: missing geometry", i)
		}
		if _, err := creator.CreateFeature(ctx, payload); err != nil {
			return created, fmt.Errorf("feature %d: %w", i, err)
		}
		created++
	}
	return created, nil
}

// ImportFile is Import reading from a file path; a .gz suffix selects
// gzip decompression.
func ImportFile(ctx context.Context, path string, creator Creator) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return Import(ctx, r, creator)
}

// ExportFile writes fc to a file path; a .gz suffix selects gzip
// compression.
func ExportFile(path string, fc geojson.FeatureCollection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := WriteCollection(w, fc); err != nil {
		f.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// payloadFor maps a collection feature onto a create request. The
// name and description live in the properties bag; any store-assigned
// id is dropped so imports always create new features.
func payloadFor(f geojson.Feature) client.FeaturePayload {
	var payload client.FeaturePayload
	if f.Geometry.Type != "" {
		geom := f.Geometry
		payload.GeoJSON = &geom
	}
	if name, ok := f.Properties["name"].(string); ok {
		payload.Name = &name
	}
	if desc, ok := f.Properties["description"].(string); ok {
		payload.Description = &desc
	}
	return payload
}
