package render

import (
	"fmt"

	"github.com/rfchamber/fswlab/pattern"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
)

// paletteSize is the number of colors used for heat maps
const paletteSize = 255

// angleGrid adapts a pattern to plotter.GridXYZ with azimuth along x and
// elevation along y, whichever way the pattern's rows run
type angleGrid struct {
	p          *pattern.Pattern
	transposed bool
}

func newAngleGrid(p *pattern.Pattern) angleGrid {
	r, _ := p.Dims()
	// azimuth-major patterns hold azimuth down the rows
	t := r > 1 && p.Azimuth.At(0, 0) != p.Azimuth.At(1, 0)
	return angleGrid{p: p, transposed: t}
}

func (g angleGrid) at(c, r int) (int, int) {
	if g.transposed {
		return c, r
	}
	return r, c
}

func (g angleGrid) Dims() (c, r int) {
	rows, cols := g.p.Dims()
	if g.transposed {
		return rows, cols
	}
	return cols, rows
}

func (g angleGrid) Z(c, r int) float64 {
	i, j := g.at(c, r)
	return g.p.Amplitude.At(i, j)
}

func (g angleGrid) X(c int) float64 {
	i, j := g.at(c, 0)
	return g.p.Azimuth.At(i, j)
}

func (g angleGrid) Y(r int) float64 {
	i, j := g.at(0, r)
	return g.p.Elevation.At(i, j)
}

// SizeError is returned when a grid has too few rows or columns to draw
type SizeError struct {
	Rows, Cols int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("a %dx%d grid is too small for a heat map", e.Rows, e.Cols)
}

// Heatmap draws amplitude over azimuth and elevation, the way a pcolor plot
// does, with a color bar
func Heatmap(p *pattern.Pattern) (*Figure, error) {
	g := newAngleGrid(p)
	if c, r := g.Dims(); c < 2 || r < 2 {
		return nil, &SizeError{Rows: r, Cols: c}
	}
	min, max := amplitudeRange(p.Amplitude.RawMatrix().Data)
	cm := NewJet(min, max)
	hm := plotter.NewHeatMap(g, cm.Palette(paletteSize))
	hm.Min, hm.Max = cm.Min(), cm.Max()

	pl := plot.New()
	pl.Title.Text = peakTitle(p.Peak)
	pl.X.Label.Text = "Azimuth angle in °"
	pl.Y.Label.Text = "Elevation angle in °"
	pl.Add(hm)
	return &Figure{Plot: pl, Bar: colorBar(cm, "Amplitude in dB")}, nil
}
