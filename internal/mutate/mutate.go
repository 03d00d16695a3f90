// Package mutate translates user create, edit, and delete intents into
// store calls. Every path that touches the store ends with a full
// viewport re-fetch; the store's view, not local optimistic state, is
// the final rendered truth.
package mutate

import (
	"context"

	"github.com/geofeatures/server/internal/client"
	"github.com/geofeatures/server/internal/geojson"
	"github.com/geofeatures/server/internal/layers"
)

// Details is the outcome of the blocking create prompt.
type Details struct {
	Name        string
	Description string
}

// Prompter collects name and description for a drawn geometry. It
// blocks until the user confirms or cancels; ok is false on cancel.
type Prompter interface {
	Prompt(ctx context.Context) (details Details, ok bool)
}

// Store is the wire-protocol subset the pipeline needs. *client.Client
// satisfies it.
type Store interface {
	CreateFeature(ctx context.Context, payload client.FeaturePayload) (string, error)
	UpdateFeature(ctx context.Context, id string, payload client.FeaturePayload) error
	DeleteFeature(ctx context.Context, id string) error
}

// Identity resolves drawn-layer handles to server ids and owns the
// highlight. *layers.Reconciler satisfies it.
type Identity interface {
	IDFor(handle layers.Handle) (string, bool)
	Tag(handle layers.Handle, id string) error
	Discard(handle layers.Handle)
	Highlighted() string
	ClearHighlight()
}

// Refresher triggers the post-mutation viewport re-fetch.
type Refresher interface {
	Refresh()
}

// Toaster shows user-facing messages.
type Toaster interface {
	ShowToast(message string)
}

// GeometryEdit is one edited layer from the drawing tool's edit mode.
type GeometryEdit struct {
	Handle   layers.Handle
	Geometry geojson.Geometry
}

// Pipeline wires the mutation paths together.
type Pipeline struct {
	store     Store
	identity  Identity
	refresher Refresher
	prompter  Prompter
	ui        Toaster
}

// NewPipeline creates a mutation pipeline.
func NewPipeline(store Store, identity Identity, refresher Refresher, prompter Prompter, ui Toaster) *Pipeline {
	return &Pipeline{
		store:     store,
		identity:  identity,
		refresher: refresher,
		prompter:  prompter,
		ui:        ui,
	}
}

// CreateFromDrawing runs the create path for a freshly drawn geometry:
// prompt for details, create, tag the handle with the acknowledged id,
// then re-fetch. Cancellation discards the drawn geometry entirely; it
// never reaches any layer set.
func (p *Pipeline) CreateFromDrawing(ctx context.Context, handle layers.Handle, geom geojson.Geometry) error {
	details, ok := p.prompter.Prompt(ctx)
	if !ok {
		p.identity.Discard(handle)
		return nil
	}

	id, err := p.store.CreateFeature(ctx, client.FeaturePayload{
		Name:        &details.Name,
		Description: &details.Description,
		GeoJSON:     &geom,
	})
	if err != nil {
		p.identity.Discard(handle)
		p.ui.ShowToast(err.Error())
		return err
	}

	// The handle is tagged exactly once, at acknowledgment.
	if tagErr := p.identity.Tag(handle, id); tagErr != nil {
		p.ui.ShowToast(tagErr.Error())
	}

	p.refresher.Refresh()
	return nil
}

// EditGeometries pushes a batch of geometry edits. Only layers with a
// known server id produce a network call; a batch with none is
// reported as a no-op. Updates run sequentially and the first failure
// aborts the rest, surfacing a single toast.
func (p *Pipeline) EditGeometries(ctx context.Context, edits []GeometryEdit) error {
	type backed struct {
		id   string
		geom geojson.Geometry
	}
	var queue []backed
	for _, e := range edits {
		if id, ok := p.identity.IDFor(e.Handle); ok {
			queue = append(queue, backed{id: id, geom: e.Geometry})
		}
	}
	if len(queue) == 0 {
		p.ui.ShowToast("no saved features in this edit")
		return nil
	}

	for _, b := range queue {
		geom := b.geom
		if err := p.store.UpdateFeature(ctx, b.id, client.FeaturePayload{GeoJSON: &geom}); err != nil {
			p.ui.ShowToast(err.Error())
			p.refresher.Refresh()
			return err
		}
	}

	p.refresher.Refresh()
	return nil
}

// UpdateDetails is the inline edit path: rename or re-describe one
// feature by id.
func (p *Pipeline) UpdateDetails(ctx context.Context, id string, name, description *string) error {
	if name == nil && description == nil {
		return nil
	}
	if err := p.store.UpdateFeature(ctx, id, client.FeaturePayload{Name: name, Description: description}); err != nil {
		p.ui.ShowToast(err.Error())
		return err
	}
	p.refresher.Refresh()
	return nil
}

// DeleteLayers deletes a batch of layers. Unmapped layers are skipped;
// a batch with no server-backed layer is a reported no-op. Deleting
// the highlighted feature clears the highlight before the refresh.
// Same sequential abort-on-first-failure policy as edits.
func (p *Pipeline) DeleteLayers(ctx context.Context, handles []layers.Handle) error {
	var ids []string
	for _, h := range handles {
		if id, ok := p.identity.IDFor(h); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		p.ui.ShowToast("no saved features in this delete")
		return nil
	}

	if highlighted := p.identity.Highlighted(); highlighted != "" {
		for _, id := range ids {
			if id == highlighted {
				p.identity.ClearHighlight()
				break
			}
		}
	}

	for _, id := range ids {
		if err := p.store.DeleteFeature(ctx, id); err != nil {
			p.ui.ShowToast(err.Error())
			p.refresher.Refresh()
			return err
		}
	}

	p.refresher.Refresh()
	return nil
}
