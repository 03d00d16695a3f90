// Package config handles configuration loading for the feature server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Sync    SyncConfig    `yaml:"sync"`
	Geocode GeocodeConfig `yaml:"geocode"`
	Render  RenderConfig  `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig contains spatial store settings.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	QuerySizeMB      int `yaml:"query_size_mb"`
	QueryTTLMinutes  int `yaml:"query_ttl_minutes"`
	GeocodeCacheSize int `yaml:"geocode_cache_size"`
}

// SyncConfig contains client sync-engine settings.
type SyncConfig struct {
	DebounceMillis      int `yaml:"debounce_ms"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
}

// GeocodeConfig contains reverse-geocoding settings.
type GeocodeConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3000,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			SQLitePath: "./data/features.sqlite",
		},
		Cache: CacheConfig{
			QuerySizeMB:      64,
			QueryTTLMinutes:  10,
			GeocodeCacheSize: 1000,
		},
		Sync: SyncConfig{
			DebounceMillis:      400,
			FetchTimeoutSeconds: 10,
		},
		Geocode: GeocodeConfig{
			BaseURL:        "https://nominatim.openstreetmap.org/reverse",
			TimeoutSeconds: 5,
		},
		Render: RenderConfig{
			MaxWidth:  2048,
			MaxHeight: 2048,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Cache.QuerySizeMB == 0 {
		cfg.Cache.QuerySizeMB = defaults.Cache.QuerySizeMB
	}
	if cfg.Cache.QueryTTLMinutes == 0 {
		cfg.Cache.QueryTTLMinutes = defaults.Cache.QueryTTLMinutes
	}
	if cfg.Cache.GeocodeCacheSize == 0 {
		cfg.Cache.GeocodeCacheSize = defaults.Cache.GeocodeCacheSize
	}
	if cfg.Sync.DebounceMillis == 0 {
		cfg.Sync.DebounceMillis = defaults.Sync.DebounceMillis
	}
	if cfg.Sync.FetchTimeoutSeconds == 0 {
		cfg.Sync.FetchTimeoutSeconds = defaults.Sync.FetchTimeoutSeconds
	}
	if cfg.Geocode.BaseURL == "" {
		cfg.Geocode.BaseURL = defaults.Geocode.BaseURL
	}
	if cfg.Geocode.TimeoutSeconds == 0 {
		cfg.Geocode.TimeoutSeconds = defaults.Geocode.TimeoutSeconds
	}
	if cfg.Render.MaxWidth == 0 {
		cfg.Render.MaxWidth = defaults.Render.MaxWidth
	}
	if cfg.Render.MaxHeight == 0 {
		cfg.Render.MaxHeight = defaults.Render.MaxHeight
	}
}
