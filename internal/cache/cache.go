// Package cache provides caching for query responses and geocode labels.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	QueryCacheSizeMB int
	QueryTTL         time.Duration
	GeocodeCacheSize int
}

// Manager manages the query-response and geocode-label caches.
type Manager struct {
	queryCache   *bigcache.BigCache
	geocodeCache *lru.Cache[string, string]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	queryCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.QueryTTL,
		CleanWindow:        cfg.QueryTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // 512KB per serialized collection
		HardMaxCacheSize:   cfg.QueryCacheSizeMB,
		Verbose:            false,
	}

	queryCache, err := bigcache.New(context.Background(), queryCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	geocodeCache, err := lru.New[string, string](cfg.GeocodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocode cache: %w", err)
	}

	return &Manager{
		queryCache:   queryCache,
		geocodeCache: geocodeCache,
	}, nil
}

// GetQuery retrieves a serialized query response from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	data, err := m.queryCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetQuery stores a serialized query response in cache.
func (m *Manager) SetQuery(key string, data []byte) error {
	return m.queryCache.Set(key, data)
}

// GetLabel retrieves a geocode label from cache.
func (m *Manager) GetLabel(key string) (string, bool) {
	return m.geocodeCache.Get(key)
}

// SetLabel stores a geocode label in cache.
func (m *Manager) SetLabel(key, label string) {
	m.geocodeCache.Add(key, label)
}

// QueryKey generates a cache key for a feature query. The store generation
// is part of the key, so any mutation invalidates every cached response
// without explicit eviction.
func QueryKey(generation int64, rawQuery string) string {
	base := fmt.Sprintf("q:%d", generation)
	if rawQuery == "" {
		return base
	}
	h := sha256.Sum256([]byte(rawQuery))
	return base + ":" + hex.EncodeToString(h[:])[:16]
}

// LabelKey generates a cache key for a reverse-geocode lookup, quantized so
// nearby clicks share an entry.
func LabelKey(lat, lon float64) string {
	return fmt.Sprintf("geo:%.5f,%.5f", lat, lon)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"query_cache_len":   m.queryCache.Len(),
		"query_cache_cap":   m.queryCache.Capacity(),
		"geocode_cache_len": m.geocodeCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.queryCache.Close()
}
