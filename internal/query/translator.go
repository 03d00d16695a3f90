// Package query translates viewport requests into store filters and shapes
// stored rows into the GeoJSON wire format.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/geofeatures/server/internal/geojson"
	"github.com/geofeatures/server/internal/store"
)

// DefaultNearRadiusMeters bounds a near query when no radius is given.
const DefaultNearRadiusMeters = 5000

// ParseFilter builds a store filter from request query parameters.
// Two modes are recognized: ?bbox=minLon,minLat,maxLon,maxLat and
// ?near=lat,lon&radius=meters. Malformed or missing parameters degrade to
// the unfiltered query (fetch everything), never to an error.
func ParseFilter(params url.Values) store.Filter {
	if raw := params.Get("bbox"); raw != "" {
		if box, ok := parseBBox(raw); ok {
			return store.Filter{BBox: &box}
		}
	} else if raw := params.Get("near"); raw != "" {
		if near, ok := parseNear(raw, params.Get("radius")); ok {
			return store.Filter{Near: &near}
		}
	}
	return store.Filter{}
}

// parseBBox parses "minLon,minLat,maxLon,maxLat".
func parseBBox(raw string) (geojson.BBox, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geojson.BBox{}, false
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geojson.BBox{}, false
		}
		vals[i] = v
	}
	return geojson.BBox{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}, true
}

// parseNear parses "lat,lon" plus an optional radius in meters.
func parseNear(raw, radius string) (store.NearFilter, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return store.NearFilter{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return store.NearFilter{}, false
	}

	maxDist := float64(DefaultNearRadiusMeters)
	if radius != "" {
		if d, err := strconv.ParseFloat(strings.TrimSpace(radius), 64); err == nil && d > 0 {
			maxDist = d
		}
	}
	return store.NearFilter{Lat: lat, Lon: lon, MaxDistanceMeters: maxDist}, true
}

// ToCollection shapes stored features into a FeatureCollection. The
// store-assigned id and the declared name/description are merged into each
// feature's properties bag; store-side extra properties are preserved but
// never overwrite those computed keys. Every returned feature carries a
// non-empty properties.id.
func ToCollection(features []store.Feature) geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		props := make(map[string]any, len(f.Properties)+3)
		for k, v := range f.Properties {
			props[k] = v
		}
		props["id"] = f.ID
		props["name"] = f.Name
		props["description"] = f.Description

		fc.Features = append(fc.Features, geojson.Feature{
			Type:       "Feature",
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	return fc
}
