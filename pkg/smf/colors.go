package smf

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// colorTable is the 128-entry hue sweep shared by every grid. Computed once;
// immutable after construction.
var colorTable = buildColorTable()

func buildColorTable() [128]color.RGBA {
	var table [128]color.RGBA
	for i := range table {
		// Full hue circle across the table, fixed saturation and value so
		// neighboring channels stay distinguishable on dark backgrounds.
		h := float64(i) / float64(len(table)) * 360.0
		r, g, b := colorful.Hsv(h, 0.78, 0.92).RGB255()
		table[i] = color.RGBA{R: r, G: g, B: b, A: 0xFF}
	}
	return table
}

// ColorTable returns the precomputed hue-sweep palette.
func ColorTable() [128]color.RGBA {
	return colorTable
}

// ChannelColor maps a grid cell value (1..16, as written by the parser) to
// its display color. Zero and out-of-range values come back black.
func ChannelColor(cell int8) color.RGBA {
	if cell <= 0 {
		return color.RGBA{A: 0xFF}
	}
	idx := (int(cell) - 1) * (len(colorTable) / 16)
	if idx >= len(colorTable) {
		idx = len(colorTable) - 1
	}
	return colorTable[idx]
}
