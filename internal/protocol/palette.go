package protocol

import (
	"fmt"
	"math"
)

// BreedColor assigns a display color to one breed so every client renders
// the same run the same way. The server itself never draws.
type BreedColor struct {
	Breed int     `json:"breed"`
	Hue   float64 `json:"hue"`
	Hex   string  `json:"hex"`
}

// Palette saturation and value are fixed; breeds are told apart by hue
// alone, spaced evenly around the color circle like the breeds around the
// dominance circle.
const (
	paletteSaturation = 1.0
	paletteValue      = 0.85
)

// BreedPalette returns n colors at 360/n degree hue intervals.
func BreedPalette(n int) []BreedColor {
	if n <= 0 {
		return nil
	}
	out := make([]BreedColor, n)
	for i := 0; i < n; i++ {
		hue := float64(i) * 360 / float64(n)
		r, g, b := hsvToRGB(hue, paletteSaturation, paletteValue)
		out[i] = BreedColor{
			Breed: i,
			Hue:   hue,
			Hex:   fmt.Sprintf("#%02x%02x%02x", r, g, b),
		}
	}
	return out
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return uint8(math.Round((r + m) * 255)), uint8(math.Round((g + m) * 255)), uint8(math.Round((b + m) * 255))
}
