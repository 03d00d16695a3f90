// Package layers is the render reconciler: it turns the fetched
// feature collection into rendered map layers and list rows, groups
// layers into clusters when cluster mode is on, and tracks the single
// cross-view highlight.
package layers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/geofeatures/server/internal/geojson"
	viewsync "github.com/geofeatures/server/internal/sync"
)

// DefaultClusterRadiusMeters is the grouping threshold: layers within
// this distance of a cluster's seed join that cluster.
const DefaultClusterRadiusMeters = 200.0

// ErrAlreadyTagged is returned when a handle that already carries a
// server id is tagged a second time.
var ErrAlreadyTagged = errors.New("layer handle already tagged")

// Handle identifies a locally drawn layer before (and after) it is
// tied to a server id. Handles are never reused.
type Handle int64

// ClusterSize is the visual tier of a cluster marker.
type ClusterSize int

const (
	ClusterSmall  ClusterSize = iota // up to 10 layers
	ClusterMedium                    // 11 to 50
	ClusterLarge                     // more than 50
)

// SizeForCount maps a cluster's member count to its visual tier.
func SizeForCount(n int) ClusterSize {
	switch {
	case n <= 10:
		return ClusterSmall
	case n <= 50:
		return ClusterMedium
	default:
		return ClusterLarge
	}
}

// Marker is one individually rendered feature.
type Marker struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// Cluster is a group of nearby features rendered as one marker.
type Cluster struct {
	Lat   float64
	Lon   float64
	Count int
	Size  ClusterSize
	IDs   []string
}

// Item is one row in the feature list.
type Item struct {
	ID          string
	Name        string
	Description string
}

// MapView is the map canvas. PanTo must invoke done only after any
// animated camera motion has finished.
type MapView interface {
	SetMarkers(markers []Marker)
	SetClusters(clusters []Cluster)
	Highlight(id string)
	Unhighlight(id string)
	PanTo(lat, lon float64, done func())
	OpenPopup(id string)
}

// ListView is the feature list beside the map.
type ListView interface {
	SetItems(items []Item)
	Highlight(id string)
	Unhighlight(id string)
}

// Reconciler owns the handle-to-id identity map and the highlight
// state, and rebuilds both views from the view state after each fetch.
type Reconciler struct {
	mapView  MapView
	listView ListView

	clusterRadius float64

	mu          sync.Mutex
	nextHandle  Handle
	handleToID  map[Handle]string
	features    map[string]geojson.Feature
	highlighted string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClusterRadius overrides the grouping threshold in meters.
func WithClusterRadius(meters float64) Option {
	return func(r *Reconciler) {
		if meters > 0 {
			r.clusterRadius = meters
		}
	}
}

// NewReconciler creates a reconciler bound to the two views.
func NewReconciler(mapView MapView, listView ListView, opts ...Option) *Reconciler {
	r := &Reconciler{
		mapView:       mapView,
		listView:      listView,
		clusterRadius: DefaultClusterRadiusMeters,
		handleToID:    make(map[Handle]string),
		features:      make(map[string]geojson.Feature),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewHandle allocates a handle for a freshly drawn, not yet persisted
// layer.
func (r *Reconciler) NewHandle() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandle++
	return r.nextHandle
}

// Tag ties a drawn layer to its server id. The mapping is set exactly
// once, at creation acknowledgment; re-tagging is an error.
func (r *Reconciler) Tag(handle Handle, id string) error {
	if id == "" {
		return fmt.Errorf("tag handle %d: empty id", handle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handleToID[handle]; ok {
		return ErrAlreadyTagged
	}
	r.handleToID[handle] = id
	return nil
}

// IDFor resolves a handle to its server id. A handle without a mapping
// is not server backed; edits and deletes referencing it are no-ops.
func (r *Reconciler) IDFor(handle Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.handleToID[handle]
	return id, ok
}

// Discard forgets a handle whose creation was canceled. The drawn
// geometry never reaches any layer set.
func (r *Reconciler) Discard(handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handleToID, handle)
}

// Rebuild replaces the rendered layers and list rows from the view
// state's cached collection. At most one layer exists per id. If the
// highlighted id is absent from the new collection, the highlight is
// cleared.
func (r *Reconciler) Rebuild(view *viewsync.ViewState) {
	r.mu.Lock()

	r.features = make(map[string]geojson.Feature, len(view.Cache.Features))
	markers := make([]Marker, 0, len(view.Cache.Features))
	items := make([]Item, 0, len(view.Cache.Features))

	for _, f := range view.Cache.Features {
		id, _ := f.Properties["id"].(string)
		if id == "" {
			continue
		}
		if _, seen := r.features[id]; seen {
			continue
		}
		r.features[id] = f

		lon, lat, err := f.Geometry.RepresentativePoint()
		if err != nil {
			continue
		}
		name, _ := f.Properties["name"].(string)
		desc, _ := f.Properties["description"].(string)
		markers = append(markers, Marker{ID: id, Name: name, Lat: lat, Lon: lon})
		items = append(items, Item{ID: id, Name: name, Description: desc})
	}

	pruned := ""
	if r.highlighted != "" {
		if _, ok := r.features[r.highlighted]; !ok {
			pruned = r.highlighted
			r.highlighted = ""
		}
	}
	clustered := view.ClusterMode
	radius := r.clusterRadius
	r.mu.Unlock()

	if pruned != "" {
		r.mapView.Unhighlight(pruned)
		r.listView.Unhighlight(pruned)
	}

	if clustered {
		r.mapView.SetMarkers(nil)
		r.mapView.SetClusters(groupClusters(markers, radius))
	} else {
		r.mapView.SetClusters(nil)
		r.mapView.SetMarkers(markers)
	}
	r.listView.SetItems(items)
}

// Highlight selects id in both views, clearing any previous selection
// first. Each view is cleared independently since either may lack a
// renderable for the old id.
func (r *Reconciler) Highlight(id string) {
	r.mu.Lock()
	prev := r.highlighted
	r.highlighted = id
	r.mu.Unlock()

	if prev != "" && prev != id {
		r.mapView.Unhighlight(prev)
		r.listView.Unhighlight(prev)
	}
	r.mapView.Highlight(id)
	r.listView.Highlight(id)
}

// ClearHighlight removes the current selection, if any.
func (r *Reconciler) ClearHighlight() {
	r.mu.Lock()
	prev := r.highlighted
	r.highlighted = ""
	r.mu.Unlock()

	if prev != "" {
		r.mapView.Unhighlight(prev)
		r.listView.Unhighlight(prev)
	}
}

// Highlighted returns the selected id, or "" when nothing is selected.
func (r *Reconciler) Highlighted() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highlighted
}

// SelectFromList reacts to a list row click: highlight the feature,
// pan the map to it, and open its popup only after the camera motion
// completes.
func (r *Reconciler) SelectFromList(id string) {
	r.mu.Lock()
	f, ok := r.features[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	r.Highlight(id)

	lon, lat, err := f.Geometry.RepresentativePoint()
	if err != nil {
		return
	}
	r.mapView.PanTo(lat, lon, func() {
		r.mapView.OpenPopup(id)
	})
}

// groupClusters groups markers greedily: each marker joins the first
// cluster whose seed lies within radius, otherwise it seeds a new one.
func groupClusters(markers []Marker, radius float64) []Cluster {
	clusters := make([]Cluster, 0, len(markers))
	for _, m := range markers {
		joined := false
		for i := range clusters {
			if geojson.Haversine(clusters[i].Lat, clusters[i].Lon, m.Lat, m.Lon) <= radius {
				clusters[i].Count++
				clusters[i].IDs = append(clusters[i].IDs, m.ID)
				joined = true
				break
			}
		}
		if !joined {
			clusters = append(clusters, Cluster{
				Lat:   m.Lat,
				Lon:   m.Lon,
				Count: 1,
				IDs:   []string{m.ID},
			})
		}
	}
	for i := range clusters {
		clusters[i].Size = SizeForCount(clusters[i].Count)
	}
	return clusters
}
