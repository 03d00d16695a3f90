// Package main is the entry point for the geo feature server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geofeatures/server/internal/api"
	"github.com/geofeatures/server/internal/cache"
	"github.com/geofeatures/server/internal/config"
	"github.com/geofeatures/server/internal/render"
	"github.com/geofeatures/server/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting feature server on port %d", cfg.Server.Port)

	// Initialize the spatial store
	st, err := store.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()
	log.Printf("Feature store: %s", cfg.Store.SQLitePath)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		QueryCacheSizeMB: cfg.Cache.QuerySizeMB,
		QueryTTL:         time.Duration(cfg.Cache.QueryTTLMinutes) * time.Minute,
		GeocodeCacheSize: cfg.Cache.GeocodeCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer
	previewRenderer := render.NewPreviewRenderer(render.Config{
		MaxWidth:  cfg.Render.MaxWidth,
		MaxHeight: cfg.Render.MaxHeight,
	})

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Store:       st,
		Cache:       cacheManager,
		Renderer:    previewRenderer,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
