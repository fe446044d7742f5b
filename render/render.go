// Package render draws radiation patterns with gonum/plot: az/el heat maps,
// amplitude cuts and 3-D surfaces, and exports amplitude grids as FITS images.
package render

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// DefaultSize is the edge length of saved figures
const DefaultSize = 6 * vg.Inch

// Figure is a plot with an optional color bar to its right
type Figure struct {
	Plot *plot.Plot
	Bar  *plot.Plot
}

// Draw draws the figure to c
func (f *Figure) Draw(c draw.Canvas) {
	if f.Bar == nil {
		f.Plot.Draw(c)
		return
	}
	w := c.Max.X - c.Min.X
	barW := w / 7
	f.Plot.Draw(draw.Crop(c, 0, -barW, 0, 0))
	f.Bar.Draw(draw.Crop(c, w-barW, 0, 0, 0))
}

// WriteTo encodes the figure in format (png, svg, pdf, jpg, eps, tiff) to w
func (f *Figure) WriteTo(w io.Writer, width, height vg.Length, format string) error {
	c, err := draw.NewFormattedCanvas(width, height, strings.ToLower(format))
	if err != nil {
		return err
	}
	f.Draw(draw.New(c))
	_, err = c.WriteTo(w)
	return err
}

// Save writes the figure to path in the format named by its extension
func (f *Figure) Save(path string, width, height vg.Length) (err error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return errors.Errorf("%s has no extension to choose a format by", path)
	}
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fid.Close(); err == nil {
			err = cerr
		}
	}()
	return f.WriteTo(fid, width, height, ext)
}

// colorBar returns a vertical color bar plot for cm
func colorBar(cm *Jet, label string) *plot.Plot {
	p := plot.New()
	p.HideX()
	p.Y.Label.Text = label
	p.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true})
	return p
}

// SlicePlot draws amplitude against angle as a dashed line with markers
func SlicePlot(angle, amplitude []float64, title string) (*Figure, error) {
	if len(angle) != len(amplitude) {
		return nil, errors.Errorf("%d angles and %d amplitudes", len(angle), len(amplitude))
	}
	if len(angle) == 0 {
		return nil, errors.New("nothing to plot")
	}
	xys := make(plotter.XYs, len(angle))
	for i := range angle {
		xys[i].X = angle[i]
		xys[i].Y = amplitude[i]
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Azimuth in °"
	p.Y.Label.Text = "Amplitude in dB"
	p.Add(plotter.NewGrid())
	l, s, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(l, s)
	return &Figure{Plot: p}, nil
}

// peakTitle is the title shared by pattern figures
func peakTitle(peak float64) string {
	return fmt.Sprintf("Max Amp.: %.1f dB", peak)
}

// amplitudeRange returns the extrema of a grid's raw data
func amplitudeRange(data []float64) (min, max float64) {
	return floats.Min(data), floats.Max(data)
}
