// Package store provides persistent storage for geo features using SQLite.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geofeatures/server/internal/geojson"
)

// ErrInvalidID is returned when an identifier is not a 24 character hex
// string. This is a client error; callers map it to a 4xx response.
var ErrInvalidID = errors.New("invalid feature id")

var featureIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// Feature is a stored feature row.
type Feature struct {
	ID          string
	Name        string
	Description string
	Geometry    geojson.Geometry
	Properties  map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NearFilter selects features within MaxDistanceMeters of a center point,
// ordered nearest first.
type NearFilter struct {
	Lat               float64
	Lon               float64
	MaxDistanceMeters float64
}

// Filter selects which features a query returns. A zero Filter matches
// everything; at most one of BBox and Near is set.
type Filter struct {
	BBox *geojson.BBox
	Near *NearFilter
}

// UpdateFields carries the subset of fields an update touches. Nil fields
// are left unchanged.
type UpdateFields struct {
	Name        *string
	Description *string
	Geometry    *geojson.Geometry
}

// Empty reports whether the update would touch nothing.
func (u UpdateFields) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Geometry == nil
}

// Store persists features in SQLite. Geometry bounds are materialized into
// indexed columns on every write so spatial queries never scan geometry
// JSON; that bound index is kept consistent with the geometry field in the
// same statement that writes it.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	gen atomic.Int64
}

// NewStore opens (and if needed creates) the feature database.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS features (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		geometry_json TEXT NOT NULL,
		properties_json TEXT,
		min_lon REAL NOT NULL,
		min_lat REAL NOT NULL,
		max_lon REAL NOT NULL,
		max_lat REAL NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_features_bounds
		ON features(min_lon, max_lon, min_lat, max_lat);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Generation returns a counter that advances on every successful mutation.
// Cached query responses embed it in their keys so a mutation implicitly
// invalidates them.
func (s *Store) Generation() int64 {
	return s.gen.Load()
}

// Create inserts a new feature and returns its store-assigned id. The id is
// immutable and is the sole key for later updates and deletes.
func (s *Store) Create(ctx context.Context, name, description string, geometry geojson.Geometry, properties map[string]any) (string, error) {
	bounds, err := geometry.Bounds()
	if err != nil {
		return "", fmt.Errorf("invalid geometry: %w", err)
	}

	geomJSON, err := json.Marshal(geometry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal geometry: %w", err)
	}
	var propsJSON []byte
	if len(properties) > 0 {
		propsJSON, err = json.Marshal(properties)
		if err != nil {
			return "", fmt.Errorf("failed to marshal properties: %w", err)
		}
	}

	id := newFeatureID()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO features (id, name, description, geometry_json, properties_json,
			min_lon, min_lat, max_lon, max_lat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id, name, description, string(geomJSON), nullableString(propsJSON),
		bounds.West, bounds.South, bounds.East, bounds.North,
		now, now,
	)
	if err != nil {
		return "", err
	}

	s.gen.Add(1)
	return id, nil
}

// Update applies a partial update. Updating an id that does not exist is a
// success, not an error: deletes and updates are idempotent by policy, which
// deliberately diverges from strict REST semantics so that racing
// delete/update batches cannot fail on rows a re-fetch already dropped.
func (s *Store) Update(ctx context.Context, id string, fields UpdateFields) error {
	if !featureIDPattern.MatchString(id) {
		return ErrInvalidID
	}

	set := "updated_at = ?"
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if fields.Name != nil {
		set += ", name = ?"
		args = append(args, *fields.Name)
	}
	if fields.Description != nil {
		set += ", description = ?"
		args = append(args, *fields.Description)
	}
	if fields.Geometry != nil {
		bounds, err := fields.Geometry.Bounds()
		if err != nil {
			return fmt.Errorf("invalid geometry: %w", err)
		}
		geomJSON, err := json.Marshal(fields.Geometry)
		if err != nil {
			return fmt.Errorf("failed to marshal geometry: %w", err)
		}
		// Bounds travel with the geometry in one statement: the spatial
		// index is re-derived on write, never lazily.
		set += ", geometry_json = ?, min_lon = ?, min_lat = ?, max_lon = ?, max_lat = ?"
		args = append(args, string(geomJSON), bounds.West, bounds.South, bounds.East, bounds.North)
	}

	args = append(args, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "UPDATE features SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return err
	}

	s.gen.Add(1)
	return nil
}

// Delete removes a feature. Deleting a missing id is a success (idempotent
// policy, see Update).
func (s *Store) Delete(ctx context.Context, id string) error {
	if !featureIDPattern.MatchString(id) {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM features WHERE id = ?", id); err != nil {
		return err
	}

	s.gen.Add(1)
	return nil
}

// Get returns a feature by id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Feature, error) {
	if !featureIDPattern.MatchString(id) {
		return nil, ErrInvalidID
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM features WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features, err := scanFeatures(rows)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}
	return &features[0], nil
}

const selectColumns = `SELECT id, name, description, geometry_json, properties_json,
	min_lon, min_lat, max_lon, max_lat, created_at, updated_at`

// Query returns the features matching the filter. A bbox filter matches
// features whose bounds lie entirely inside the box; a near filter returns
// features within the max distance of the center, nearest first; an empty
// filter returns everything.
func (s *Store) Query(ctx context.Context, f Filter) ([]Feature, error) {
	switch {
	case f.BBox != nil:
		return s.queryBBox(ctx, *f.BBox)
	case f.Near != nil:
		return s.queryNear(ctx, *f.Near)
	default:
		rows, err := s.db.QueryContext(ctx, selectColumns+" FROM features")
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanFeatures(rows)
	}
}

func (s *Store) queryBBox(ctx context.Context, box geojson.BBox) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM features
		WHERE min_lon >= ? AND max_lon <= ? AND min_lat >= ? AND max_lat <= ?
	`, box.West, box.East, box.South, box.North)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeatures(rows)
}

func (s *Store) queryNear(ctx context.Context, near NearFilter) ([]Feature, error) {
	// Coarse prefilter: a degree box around the center sized to the radius,
	// widened at high latitudes. Exact distance is checked per candidate.
	latBuf := near.MaxDistanceMeters / 111320.0
	lonScale := math.Cos(near.Lat * math.Pi / 180)
	if lonScale < 0.01 {
		lonScale = 0.01
	}
	lonBuf := latBuf / lonScale

	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM features
		WHERE max_lon >= ? AND min_lon <= ? AND max_lat >= ? AND min_lat <= ?
	`, near.Lon-lonBuf, near.Lon+lonBuf, near.Lat-latBuf, near.Lat+latBuf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanFeatures(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		feature  Feature
		distance float64
	}
	var matched []scored
	for _, f := range candidates {
		lon, lat, err := f.Geometry.RepresentativePoint()
		if err != nil {
			continue
		}
		d := geojson.Haversine(near.Lat, near.Lon, lat, lon)
		if d <= near.MaxDistanceMeters {
			matched = append(matched, scored{feature: f, distance: d})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].distance < matched[j].distance })

	out := make([]Feature, len(matched))
	for i, m := range matched {
		out[i] = m.feature
	}
	return out, nil
}

func scanFeatures(rows *sql.Rows) ([]Feature, error) {
	var features []Feature
	for rows.Next() {
		var (
			f            Feature
			geomJSON     string
			propsJSON    sql.NullString
			minLon       float64
			minLat       float64
			maxLon       float64
			maxLat       float64
			createdAtStr string
			updatedAtStr string
		)
		err := rows.Scan(
			&f.ID, &f.Name, &f.Description, &geomJSON, &propsJSON,
			&minLon, &minLat, &maxLon, &maxLat,
			&createdAtStr, &updatedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(geomJSON), &f.Geometry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal geometry: %w", err)
		}
		if propsJSON.Valid && propsJSON.String != "" {
			if err := json.Unmarshal([]byte(propsJSON.String), &f.Properties); err != nil {
				return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
			}
		}

		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)

		features = append(features, f)
	}
	return features, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func newFeatureID() string {
	b := make([]byte, 12)
	rand.Read(b)
	return hex.EncodeToString(b)
}
