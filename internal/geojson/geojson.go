// Package geojson provides the GeoJSON wire types and the small amount of
// geometry math the server needs (bounds, representative points, distances).
package geojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// earthRadiusMeters is the mean earth radius used for haversine distances.
const earthRadiusMeters = 6371008.8

var (
	// ErrEmptyGeometry is returned when a geometry has no coordinates.
	ErrEmptyGeometry = errors.New("geometry has no coordinates")
	// ErrUnsupportedType is returned for geometry types other than
	// Point, LineString and Polygon.
	ErrUnsupportedType = errors.New("unsupported geometry type")
)

// Geometry is a GeoJSON geometry. Coordinates are kept raw so that unknown
// precision and nesting survive a round trip through the store untouched.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature is a GeoJSON feature as served by the query endpoints.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is the wire shape of every query response. It is a
// point-in-time snapshot: clients replace it wholesale, never patch it.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty collection with a non-nil feature
// slice so it serializes as "features": [].
func NewFeatureCollection() FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}

// BBox is an axis-aligned bounding box in degrees: west/south/east/north.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Valid reports whether the box is ordered and within lat/lon range.
func (b BBox) Valid() bool {
	return b.West <= b.East && b.South <= b.North &&
		b.West >= -180 && b.East <= 180 &&
		b.South >= -90 && b.North <= 90
}

// Contains reports whether other lies entirely inside b (inclusive).
func (b BBox) Contains(other BBox) bool {
	return other.West >= b.West && other.East <= b.East &&
		other.South >= b.South && other.North <= b.North
}

// FromLatLon builds a Point geometry from a lat/lon pair. GeoJSON coordinate
// order is [longitude, latitude]; this is the single normalization point for
// that inversion, do not duplicate it elsewhere.
func FromLatLon(lat, lon float64) Geometry {
	raw, _ := json.Marshal([2]float64{lon, lat})
	return Geometry{Type: "Point", Coordinates: raw}
}

// Point returns the [lon, lat] coordinates of a Point geometry.
func (g Geometry) Point() (lon, lat float64, err error) {
	if g.Type != "Point" {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedType, g.Type)
	}
	var coords [2]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return 0, 0, fmt.Errorf("invalid Point coordinates: %w", err)
	}
	return coords[0], coords[1], nil
}

// Bounds computes the geometry's bounding box.
func (g Geometry) Bounds() (BBox, error) {
	positions, err := g.positions()
	if err != nil {
		return BBox{}, err
	}
	if len(positions) == 0 {
		return BBox{}, ErrEmptyGeometry
	}
	b := BBox{
		West: positions[0][0], East: positions[0][0],
		South: positions[0][1], North: positions[0][1],
	}
	for _, p := range positions[1:] {
		b.West = math.Min(b.West, p[0])
		b.East = math.Max(b.East, p[0])
		b.South = math.Min(b.South, p[1])
		b.North = math.Max(b.North, p[1])
	}
	return b, nil
}

// RepresentativePoint returns a single lon/lat standing in for the whole
// geometry: the coordinate itself for a Point, the bounds centroid otherwise.
// Near-query distances are measured against this point.
func (g Geometry) RepresentativePoint() (lon, lat float64, err error) {
	if g.Type == "Point" {
		return g.Point()
	}
	b, err := g.Bounds()
	if err != nil {
		return 0, 0, err
	}
	return (b.West + b.East) / 2, (b.South + b.North) / 2, nil
}

// positions flattens the geometry's coordinates into lon/lat pairs.
func (g Geometry) positions() ([][2]float64, error) {
	switch g.Type {
	case "Point":
		var p [2]float64
		if err := json.Unmarshal(g.Coordinates, &p); err != nil {
			return nil, fmt.Errorf("invalid Point coordinates: %w", err)
		}
		return [][2]float64{p}, nil
	case "LineString":
		var line [][2]float64
		if err := json.Unmarshal(g.Coordinates, &line); err != nil {
			return nil, fmt.Errorf("invalid LineString coordinates: %w", err)
		}
		return line, nil
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("invalid Polygon coordinates: %w", err)
		}
		var out [][2]float64
		for _, ring := range rings {
			out = append(out, ring...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, g.Type)
	}
}

// Haversine returns the great-circle distance in meters between two
// lat/lon points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
