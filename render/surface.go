package render

import (
	"math"
	"sort"

	"github.com/rfchamber/fswlab/pattern"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// View is the camera orientation of a 3-D plot in degrees, azimuth about
// the z axis and elevation above the xy plane
type View struct {
	Azimuth   float64
	Elevation float64
}

// DefaultView looks at the pattern from slightly left of boresight and above
var DefaultView = View{Azimuth: 350, Elevation: 30}

// project returns screen coordinates and depth of (x, y, z) under an
// orthographic camera.  Larger depth is closer to the viewer.
func (v View) project(x, y, z float64) (sx, sy, depth float64) {
	a := v.Azimuth * math.Pi / 180
	e := v.Elevation * math.Pi / 180
	sa, ca := math.Sincos(a)
	se, ce := math.Sincos(e)
	sx = -x*sa + y*ca
	sy = -x*ca*se - y*sa*se + z*ce
	depth = x*ca*ce + y*sa*ce + z*se
	return sx, sy, depth
}

// quad is one projected surface patch
type quad struct {
	x, y  [4]float64
	depth float64
	value float64
}

// Surface is a plot.Plotter drawing a parametric surface from parallel X, Y, Z
// matrices, each patch colored by the mean of C at its corners.  Patches are
// painted back to front.
type Surface struct {
	quads                  []quad
	cm                     *Jet
	xmin, xmax, ymin, ymax float64

	// LineStyle outlines each patch when its width is non zero
	LineStyle draw.LineStyle
}

// NewSurface projects the grid with view
func NewSurface(x, y, z, c mat.Matrix, cm *Jet, view View) *Surface {
	r, cols := x.Dims()
	s := &Surface{cm: cm}
	s.xmin, s.ymin = math.Inf(1), math.Inf(1)
	s.xmax, s.ymax = math.Inf(-1), math.Inf(-1)
	corner := [4][2]int{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	for i := 0; i < r-1; i++ {
		for j := 0; j < cols-1; j++ {
			var q quad
			for k, off := range corner {
				ii, jj := i+off[0], j+off[1]
				sx, sy, d := view.project(x.At(ii, jj), y.At(ii, jj), z.At(ii, jj))
				q.x[k], q.y[k] = sx, sy
				q.depth += d / 4
				q.value += c.At(ii, jj) / 4
				s.xmin, s.xmax = math.Min(s.xmin, sx), math.Max(s.xmax, sx)
				s.ymin, s.ymax = math.Min(s.ymin, sy), math.Max(s.ymax, sy)
			}
			s.quads = append(s.quads, q)
		}
	}
	sort.SliceStable(s.quads, func(a, b int) bool { return s.quads[a].depth < s.quads[b].depth })
	return s
}

// Plot implements plot.Plotter
func (s *Surface) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	pts := make([]vg.Point, 4)
	for _, q := range s.quads {
		for k := range pts {
			pts[k] = vg.Point{X: trX(q.x[k]), Y: trY(q.y[k])}
		}
		c.FillPolygon(s.cm.Color(q.value), c.ClipPolygonXY(pts))
		if s.LineStyle.Width > 0 {
			c.StrokeLines(s.LineStyle, c.ClipLinesXY(append(pts, pts[0]))...)
		}
	}
}

// DataRange implements plot.DataRanger.  The range is square and centered
// so the surface keeps its aspect when the figure is square.
func (s *Surface) DataRange() (xmin, xmax, ymin, ymax float64) {
	if len(s.quads) == 0 {
		return -1, 1, -1, 1
	}
	cx, cy := (s.xmin+s.xmax)/2, (s.ymin+s.ymax)/2
	half := math.Max(s.xmax-s.xmin, s.ymax-s.ymin) / 2
	if half == 0 {
		half = 1
	}
	return cx - half, cx + half, cy - half, cy + half
}

// Len is the number of patches
func (s *Surface) Len() int {
	return len(s.quads)
}

// Surface3D draws the projected pattern as a shaded surface seen from view,
// colored by amplitude, with a color bar
func Surface3D(p *pattern.Pattern, view View) *Figure {
	min, max := amplitudeRange(p.Amplitude.RawMatrix().Data)
	cm := NewJet(min, max)
	s := NewSurface(p.X, p.Y, p.Z, p.Amplitude, cm, view)

	pl := plot.New()
	pl.Title.Text = peakTitle(p.Peak)
	pl.HideAxes()
	pl.Add(s)
	return &Figure{Plot: pl, Bar: colorBar(cm, "Amplitude in dB")}
}
