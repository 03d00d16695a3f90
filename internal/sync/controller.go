// Package sync owns the viewport to fetch to render cycle. A Controller
// coalesces viewport-change events with a debounce timer, issues the
// bounding-box query, and on success hands the fetched collection to the
// render reconciler.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/geofeatures/server/internal/geojson"
)

// DefaultDebounce is the settle window for viewport events. A rapid
// pan/zoom sequence produces exactly one fetch after motion stops.
const DefaultDebounce = 400 * time.Millisecond

// DefaultFetchTimeout bounds one store round trip.
const DefaultFetchTimeout = 10 * time.Second

// Fetcher issues the spatial query. *client.Client satisfies it.
type Fetcher interface {
	FetchFeatures(ctx context.Context, box geojson.BBox) (geojson.FeatureCollection, error)
}

// Reconciler rebuilds rendered layers from the view state after each
// successful fetch.
type Reconciler interface {
	Rebuild(view *ViewState)
}

// UI receives the controller's side effects. Implementations must be
// cheap and non-blocking.
type UI interface {
	SetSpinner(visible bool)
	ShowToast(message string)
}

// State is the controller's fetch state.
type State int

const (
	StateIdle State = iota
	StateFetching
)

// ViewState is the single owner of mutable view data: the current
// viewport, the cluster-mode flag, and the last successfully fetched
// collection (the render cache). It is passed by reference to the
// reconciler rather than living in globals.
type ViewState struct {
	Bounds      geojson.BBox
	ClusterMode bool
	Cache       geojson.FeatureCollection
	LastError   string
}

// Controller is the viewport synchronization state machine:
// idle -> fetching -> idle (success) or idle-with-last-error.
type Controller struct {
	fetcher    Fetcher
	reconciler Reconciler
	ui         UI

	debounce     time.Duration
	fetchTimeout time.Duration

	mu       sync.Mutex
	view     ViewState
	fetching int
	timer    *time.Timer
	started  bool
	inflight sync.WaitGroup
}

// Config carries the controller's collaborators and tunables.
type Config struct {
	Fetcher    Fetcher
	Reconciler Reconciler
	UI         UI

	// Debounce and FetchTimeout fall back to the package defaults
	// when zero.
	Debounce     time.Duration
	FetchTimeout time.Duration
}

// NewController creates an idle controller. Nothing is fetched until
// the first viewport event arrives.
func NewController(cfg Config) *Controller {
	c := &Controller{
		fetcher:      cfg.Fetcher,
		reconciler:   cfg.Reconciler,
		ui:           cfg.UI,
		debounce:     cfg.Debounce,
		fetchTimeout: cfg.FetchTimeout,
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	return c
}

// ViewportChanged records new bounds and (re)schedules the coalescing
// timer. Each call cancels any pending timer; only the last event
// within the window fires a fetch, using the bounds current at expiry.
// The very first usable viewport fetches immediately.
func (c *Controller) ViewportChanged(bounds geojson.BBox) {
	c.mu.Lock()
	c.view.Bounds = bounds

	if !c.started {
		c.started = true
		c.mu.Unlock()
		c.fetch()
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.fetch)
	c.mu.Unlock()
}

// Refresh fetches immediately with the current bounds, bypassing the
// debounce window. Mutations call this after every create, update, and
// delete.
func (c *Controller) Refresh() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.fetch()
}

// State reports whether a fetch is in flight.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetching > 0 {
		return StateFetching
	}
	return StateIdle
}

// View returns a copy of the current view state.
func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// SetClusterMode flips the cluster flag and rebuilds from the cached
// collection. Toggling is idempotent and never triggers a fetch.
func (c *Controller) SetClusterMode(on bool) {
	c.mu.Lock()
	if c.view.ClusterMode == on {
		c.mu.Unlock()
		return
	}
	c.view.ClusterMode = on
	view := c.view
	c.mu.Unlock()

	c.reconciler.Rebuild(&view)
}

// Wait blocks until all in-flight fetches have completed. Test hook.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// fetch runs one fetch cycle. Overlap is prevented only by debouncing
// the trigger: an in-flight request is never canceled, and a late
// response still replaces the cache if it completes last. The spinner
// is reference-counted across overlapping fetches, asserted when the
// first one starts and deasserted when the last one exits.
func (c *Controller) fetch() {
	c.mu.Lock()
	bounds := c.view.Bounds
	c.fetching++
	first := c.fetching == 1
	c.mu.Unlock()

	if first {
		c.ui.SetSpinner(true)
	}
	c.inflight.Add(1)

	go func() {
		defer c.inflight.Done()
		defer func() {
			c.mu.Lock()
			c.fetching--
			last := c.fetching == 0
			c.mu.Unlock()
			if last {
				c.ui.SetSpinner(false)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()

		fc, err := c.fetcher.FetchFeatures(ctx, bounds)

		c.mu.Lock()
		if err != nil {
			// The cache and rendered layers survive a failed
			// fetch; only the toast changes, and only when the
			// message differs from the previous one.
			msg := err.Error()
			repeat := msg == c.view.LastError
			c.view.LastError = msg
			c.mu.Unlock()
			if !repeat {
				c.ui.ShowToast(msg)
			}
			return
		}

		c.view.Cache = fc
		c.view.LastError = ""
		// The reconciler gets a snapshot so a fetch completing
		// mid-rebuild never mutates the state it is reading.
		view := c.view
		c.mu.Unlock()

		c.reconciler.Rebuild(&view)
	}()
}
