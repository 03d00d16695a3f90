// Package api provides HTTP handlers for the feature server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/geofeatures/server/internal/cache"
	"github.com/geofeatures/server/internal/geojson"
	"github.com/geofeatures/server/internal/query"
	"github.com/geofeatures/server/internal/render"
	"github.com/geofeatures/server/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Store       *store.Store
	Cache       *cache.Manager
	Renderer    *render.PreviewRenderer
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS (also answers OPTIONS preflight on every route)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/stats", statsHandler(cfg.Store, cfg.Cache))

	r.Route("/features", func(r chi.Router) {
		r.Get("/", listFeaturesHandler(cfg.Store, cfg.Cache))
		r.Post("/", createFeatureHandler(cfg.Store))
		r.Get("/preview.png", previewHandler(cfg.Store, cfg.Renderer))
		r.Put("/{id}", updateFeatureHandler(cfg.Store))
		r.Delete("/{id}", deleteFeatureHandler(cfg.Store))
	})

	return r
}

// listFeaturesHandler serves bbox and near queries. Malformed filter params
// degrade to an unfiltered query rather than failing.
func listFeaturesHandler(st *store.Store, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if cm != nil {
			key = cache.QueryKey(st.Generation(), r.URL.RawQuery)
			if data, ok := cm.GetQuery(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Write(data)
				return
			}
		}

		filter := query.ParseFilter(r.URL.Query())
		features, err := st.Query(r.Context(), filter)
		if err != nil {
			http.Error(w, "db find error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		fc := query.ToCollection(features)
		data, err := json.Marshal(fc)
		if err != nil {
			http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cm != nil {
			cm.SetQuery(key, data)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

// featurePayload is the body of create and update requests. Geometry is
// either a raw GeoJSON object or a lat/lon pair normalized to a Point.
type featurePayload struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	GeoJSON     *geojson.Geometry `json:"geojson"`
	Lat         any               `json:"lat"`
	Lon         any               `json:"lon"`
	Properties  map[string]any    `json:"properties"`
}

// geometry extracts the payload's geometry, preferring an explicit GeoJSON
// object over a lat/lon pair. Returns nil when neither is present.
func (p *featurePayload) geometry() (*geojson.Geometry, error) {
	if p.GeoJSON != nil {
		return p.GeoJSON, nil
	}
	if p.Lat == nil || p.Lon == nil {
		return nil, nil
	}
	lat, err := toFloat(p.Lat)
	if err != nil {
		return nil, fmt.Errorf("invalid lat: %w", err)
	}
	lon, err := toFloat(p.Lon)
	if err != nil {
		return nil, fmt.Errorf("invalid lon: %w", err)
	}
	g := geojson.FromLatLon(lat, lon)
	return &g, nil
}

func createFeatureHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body featurePayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}

		geom, err := body.geometry()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if geom == nil {
			http.Error(w, "geometry (geojson) or lat+lon required", http.StatusBadRequest)
			return
		}

		name := ""
		if body.Name != nil {
			name = *body.Name
		}
		description := ""
		if body.Description != nil {
			description = *body.Description
		}

		id, err := st.Create(r.Context(), name, description, *geom, body.Properties)
		if err != nil {
			if isClientError(err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "db insert error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id})
	}
}

func updateFeatureHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var body featurePayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		geom, err := body.geometry()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		fields := store.UpdateFields{
			Name:        body.Name,
			Description: body.Description,
			Geometry:    geom,
		}
		if fields.Empty() {
			http.Error(w, "nothing to update", http.StatusBadRequest)
			return
		}

		// An unknown id is a success: update/delete are idempotent by policy.
		if err := st.Update(r.Context(), id, fields); err != nil {
			if errors.Is(err, store.ErrInvalidID) {
				http.Error(w, "invalid id", http.StatusBadRequest)
				return
			}
			if isClientError(err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "db update error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func deleteFeatureHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := st.Delete(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrInvalidID) {
				http.Error(w, "invalid id", http.StatusBadRequest)
				return
			}
			http.Error(w, "db delete error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

// previewHandler renders the features of a bbox to a PNG. Unlike the list
// endpoint a preview cannot degrade to "everything": it needs a projection
// box, so a missing or malformed bbox is a client error.
func previewHandler(st *store.Store, renderer *render.PreviewRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if renderer == nil {
			http.Error(w, "preview renderer not configured", http.StatusNotImplemented)
			return
		}

		filter := query.ParseFilter(r.URL.Query())
		if filter.BBox == nil || !filter.BBox.Valid() {
			http.Error(w, "valid bbox required (bbox=minLon,minLat,maxLon,maxLat)", http.StatusBadRequest)
			return
		}

		width, _ := strconv.Atoi(r.URL.Query().Get("width"))
		height, _ := strconv.Atoi(r.URL.Query().Get("height"))
		if width <= 0 {
			width = 512
		}
		if height <= 0 {
			height = 512
		}

		features, err := st.Query(r.Context(), filter)
		if err != nil {
			http.Error(w, "db find error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		data, err := renderer.RenderPreview(*filter.BBox, query.ToCollection(features), width, height)
		if err != nil {
			http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write(data)
	}
}

// statsHandler reports cache statistics and the current store generation.
func statsHandler(st *store.Store, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]any{
			"store_generation": st.Generation(),
		}
		if cm != nil {
			stats["cache"] = cm.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

// isClientError reports whether a store error stems from bad input rather
// than store unavailability.
func isClientError(err error) bool {
	return errors.Is(err, store.ErrInvalidID) ||
		errors.Is(err, geojson.ErrUnsupportedType) ||
		errors.Is(err, geojson.ErrEmptyGeometry)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
