// Package colormap provides color palettes for feature previews.
package colormap

import "image/color"

// Palette is a fixed list of distinct colors addressed by index.
type Palette struct {
	colors []color.RGBA
}

// AtIndex returns the color at index i (wraps around).
func (p Palette) AtIndex(i int) color.RGBA {
	if i < 0 {
		i = -i
	}
	return p.colors[i%len(p.colors)]
}

// Len returns the number of distinct colors.
func (p Palette) Len() int {
	return len(p.colors)
}

// Darkened returns the color at index i scaled toward black, for strokes.
func (p Palette) Darkened(i int) color.RGBA {
	c := p.AtIndex(i)
	return color.RGBA{
		R: uint8(float64(c.R) * 0.6),
		G: uint8(float64(c.G) * 0.6),
		B: uint8(float64(c.B) * 0.6),
		A: 255,
	}
}

// Markers is a 20-color palette with adjacent entries kept visually distinct.
var Markers = Palette{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
		{174, 199, 232, 255}, // Light blue
		{255, 187, 120, 255}, // Light orange
		{152, 223, 138, 255}, // Light green
		{255, 152, 150, 255}, // Light red
		{197, 176, 213, 255}, // Light purple
		{196, 156, 148, 255}, // Light brown
		{247, 182, 210, 255}, // Light pink
		{199, 199, 199, 255}, // Light gray
		{219, 219, 141, 255}, // Light olive
		{158, 218, 229, 255}, // Light cyan
	},
}
