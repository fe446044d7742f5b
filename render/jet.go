package render

import (
	"image/color"
	"math"

	"gonum.org/v1/plot/palette"

	"github.com/rfchamber/fswlab/util"
)

// Jet is the classic blue-cyan-yellow-red color map.  It implements
// palette.ColorMap.
type Jet struct {
	min, max float64
	alpha    float64
}

// NewJet returns a Jet map spanning [min, max].  A degenerate range is widened
// so a constant field still maps to a color.
func NewJet(min, max float64) *Jet {
	if !(max > min) {
		max = min + 1
	}
	return &Jet{min: min, max: max, alpha: 1}
}

// jet maps t in [0, 1] to its components in [0, 1]
func jet(t float64) (r, g, b float64) {
	r = util.Clamp(1.5-math.Abs(4*t-3), 0, 1)
	g = util.Clamp(1.5-math.Abs(4*t-2), 0, 1)
	b = util.Clamp(1.5-math.Abs(4*t-1), 0, 1)
	return r, g, b
}

// At implements palette.ColorMap
func (j *Jet) At(v float64) (color.Color, error) {
	switch {
	case math.IsNaN(v):
		return nil, palette.ErrNaN
	case v < j.min:
		return nil, palette.ErrUnderflow
	case v > j.max:
		return nil, palette.ErrOverflow
	}
	r, g, b := jet((v - j.min) / (j.max - j.min))
	a := j.alpha
	return color.NRGBA{
		R: uint8(math.Round(r * 255)),
		G: uint8(math.Round(g * 255)),
		B: uint8(math.Round(b * 255)),
		A: uint8(math.Round(a * 255)),
	}, nil
}

// Color is At with out of range values clamped to the ends of the map
func (j *Jet) Color(v float64) color.Color {
	if math.IsNaN(v) {
		return color.Transparent
	}
	c, _ := j.At(util.Clamp(v, j.min, j.max))
	return c
}

// Max implements palette.ColorMap
func (j *Jet) Max() float64 { return j.max }

// SetMax implements palette.ColorMap
func (j *Jet) SetMax(v float64) { j.max = v }

// Min implements palette.ColorMap
func (j *Jet) Min() float64 { return j.min }

// SetMin implements palette.ColorMap
func (j *Jet) SetMin(v float64) { j.min = v }

// Alpha implements palette.ColorMap
func (j *Jet) Alpha() float64 { return j.alpha }

// SetAlpha implements palette.ColorMap
func (j *Jet) SetAlpha(a float64) { j.alpha = a }

type jetPalette []color.Color

func (p jetPalette) Colors() []color.Color { return p }

// Palette implements palette.ColorMap
func (j *Jet) Palette(n int) palette.Palette {
	out := make(jetPalette, n)
	for i := range out {
		t := 0.
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		out[i] = j.Color(j.min + t*(j.max-j.min))
	}
	return out
}

var _ palette.ColorMap = (*Jet)(nil)
