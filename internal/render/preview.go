// Package render draws static feature previews using fogleman/gg.
package render

import (
	"bytes"
	"encoding/json"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/geofeatures/server/internal/geojson"
	"github.com/geofeatures/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	MaxWidth  int
	MaxHeight int
}

// PreviewRenderer renders a bounding box worth of features to a PNG. It is
// a debugging/thumbnail surface; the interactive map canvas lives in the
// frontend and is not served from here.
type PreviewRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 2048
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 2048
	}
	return &PreviewRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderPreview draws the features of a collection projected into box.
func (r *PreviewRenderer) RenderPreview(box geojson.BBox, fc geojson.FeatureCollection, width, height int) ([]byte, error) {
	width = clamp(width, 16, r.config.MaxWidth)
	height = clamp(height, 16, r.config.MaxHeight)

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()

	lonSpan := box.East - box.West
	latSpan := box.North - box.South
	if lonSpan <= 0 || latSpan <= 0 {
		return r.encodeContext(dc)
	}

	project := func(lon, lat float64) (float64, float64) {
		x := (lon - box.West) / lonSpan * float64(width)
		y := (box.North - lat) / latSpan * float64(height)
		return x, y
	}

	markerRadius := float64(width) / 100
	if markerRadius < 3 {
		markerRadius = 3
	}

	for i, f := range fc.Features {
		fill := colormap.Markers.AtIndex(i)
		stroke := colormap.Markers.Darkened(i)

		switch f.Geometry.Type {
		case "Point":
			lon, lat, err := f.Geometry.Point()
			if err != nil {
				continue
			}
			x, y := project(lon, lat)
			dc.SetColor(fill)
			dc.DrawCircle(x, y, markerRadius)
			dc.Fill()
			dc.SetColor(stroke)
			dc.SetLineWidth(1.5)
			dc.DrawCircle(x, y, markerRadius)
			dc.Stroke()

		case "LineString":
			var line [][2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &line); err != nil || len(line) < 2 {
				continue
			}
			dc.NewSubPath()
			for j, p := range line {
				x, y := project(p[0], p[1])
				if j == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.SetColor(stroke)
			dc.SetLineWidth(2.5)
			dc.Stroke()

		case "Polygon":
			var rings [][][2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil || len(rings) == 0 {
				continue
			}
			for _, ring := range rings {
				if len(ring) < 3 {
					continue
				}
				dc.NewSubPath()
				for j, p := range ring {
					x, y := project(p[0], p[1])
					if j == 0 {
						dc.MoveTo(x, y)
					} else {
						dc.LineTo(x, y)
					}
				}
				dc.ClosePath()
			}
			dc.SetColor(withAlpha(fill, 110))
			dc.FillPreserve()
			dc.SetColor(stroke)
			dc.SetLineWidth(2)
			dc.Stroke()
		}
	}

	return r.encodeContext(dc)
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func withAlpha(c color.RGBA, a uint8) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: a}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
