// Package main is featurectl, a command line client for the feature
// server: bulk import/export, reverse-geocode lookups, and a one-shot
// viewport listing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/geofeatures/server/internal/cache"
	"github.com/geofeatures/server/internal/client"
	"github.com/geofeatures/server/internal/config"
	"github.com/geofeatures/server/internal/featureio"
	"github.com/geofeatures/server/internal/geocode"
	"github.com/geofeatures/server/internal/geojson"
	"github.com/geofeatures/server/internal/layers"
	viewsync "github.com/geofeatures/server/internal/sync"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: featurectl <command> [flags]

Commands:
  import  -server URL -file PATH            create one feature per entry in a GeoJSON file (.gz supported)
  export  -server URL -file PATH [-bbox W,S,E,N]  write the matching features to a GeoJSON file
  label   -lat LAT -lon LON [-config PATH]  reverse geocode a point
  list    -server URL -bbox W,S,E,N [-config PATH]  fetch a viewport and print its features
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "import":
		runImport(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "label":
		runLabel(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	default:
		usage()
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	server := fs.String("server", "http://localhost:3000", "Feature server base URL")
	file := fs.String("file", "", "GeoJSON file to import")
	fs.Parse(args)

	if *file == "" {
		log.Fatal("import: -file is required")
	}

	c := client.New(*server)
	created, err := featureio.ImportFile(context.Background(), *file, c)
	if err != nil {
		log.Fatalf("Import stopped after %d feature(s): %v", created, err)
	}
	log.Printf("Imported %d feature(s)", created)
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	server := fs.String("server", "http://localhost:3000", "Feature server base URL")
	file := fs.String("file", "", "Output GeoJSON file")
	bbox := fs.String("bbox", "", "Viewport as minLon,minLat,maxLon,maxLat (empty exports everything)")
	fs.Parse(args)

	if *file == "" {
		log.Fatal("export: -file is required")
	}
	box, err := parseBBoxFlag(*bbox)
	if err != nil {
		log.Fatalf("export: %v", err)
	}

	c := client.New(*server)
	fc, err := c.FetchFeatures(context.Background(), box)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
	if err := featureio.ExportFile(*file, fc); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	log.Printf("Exported %d feature(s) to %s", len(fc.Features), *file)
}

func runLabel(args []string) {
	fs := flag.NewFlagSet("label", flag.ExitOnError)
	configPath := fs.String("config", "config/server.yaml", "Path to configuration file")
	lat := fs.Float64("lat", 0, "Latitude")
	lon := fs.Float64("lon", 0, "Longitude")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		QueryCacheSizeMB: cfg.Cache.QuerySizeMB,
		QueryTTL:         time.Duration(cfg.Cache.QueryTTLMinutes) * time.Minute,
		GeocodeCacheSize: cfg.Cache.GeocodeCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	g := geocode.New(cfg.Geocode.BaseURL, cacheManager)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Geocode.TimeoutSeconds)*time.Second)
	defer cancel()

	fmt.Println(g.Label(ctx, *lat, *lon))
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	server := fs.String("server", "http://localhost:3000", "Feature server base URL")
	bbox := fs.String("bbox", "", "Viewport as minLon,minLat,maxLon,maxLat")
	configPath := fs.String("config", "config/server.yaml", "Path to configuration file")
	fs.Parse(args)

	if *bbox == "" {
		log.Fatal("list: -bbox is required")
	}
	box, err := parseBBoxFlag(*bbox)
	if err != nil {
		log.Fatalf("list: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Run the same viewport pipeline the map UI uses: controller
	// fetches, reconciler shapes layers and rows, the console views
	// print them.
	reconciler := layers.NewReconciler(&consoleMap{}, &consoleList{})
	controller := viewsync.NewController(viewsync.Config{
		Fetcher:      client.New(*server),
		Reconciler:   reconciler,
		UI:           &consoleUI{},
		Debounce:     time.Duration(cfg.Sync.DebounceMillis) * time.Millisecond,
		FetchTimeout: time.Duration(cfg.Sync.FetchTimeoutSeconds) * time.Second,
	})

	controller.ViewportChanged(box)
	controller.Wait()
}

func parseBBoxFlag(raw string) (geojson.BBox, error) {
	if raw == "" {
		return geojson.BBox{}, nil
	}
	var box geojson.BBox
	n, err := fmt.Sscanf(raw, "%f,%f,%f,%f", &box.West, &box.South, &box.East, &box.North)
	if err != nil || n != 4 {
		return geojson.BBox{}, fmt.Errorf("invalid bbox %q, want minLon,minLat,maxLon,maxLat", raw)
	}
	if !box.Valid() {
		return geojson.BBox{}, fmt.Errorf("bbox %q out of range", raw)
	}
	return box, nil
}

// consoleMap prints markers and clusters instead of drawing them.
type consoleMap struct{}

func (consoleMap) SetMarkers(markers []layers.Marker) {
	for _, m := range markers {
		fmt.Printf("%s  %-24s  %.5f, %.5f\n", m.ID, m.Name, m.Lat, m.Lon)
	}
}

func (consoleMap) SetClusters(clusters []layers.Cluster) {
	for _, c := range clusters {
		fmt.Printf("cluster of %d at %.5f, %.5f\n", c.Count, c.Lat, c.Lon)
	}
}

func (consoleMap) Highlight(id string) {}

func (consoleMap) Unhighlight(id string) {}

func (consoleMap) PanTo(lat, lon float64, done func()) { done() }

func (consoleMap) OpenPopup(id string) {}

type consoleList struct{}

func (consoleList) SetItems(items []layers.Item) {
	fmt.Printf("%d feature(s) in viewport\n", len(items))
}

func (consoleList) Highlight(id string) {}

func (consoleList) Unhighlight(id string) {}

type consoleUI struct{}

func (consoleUI) SetSpinner(visible bool) {}

func (consoleUI) ShowToast(message string) { log.Print(message) }
