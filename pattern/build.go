package pattern

import (
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/measurement"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Options control how a pattern is built
type Options struct {
	// Order is the sort order, and so the grid orientation
	Order Order `json:"order"`

	// Mode selects sphere or lobe projection
	Mode Mode `json:"mode"`

	// Interp is the number of midpoint interpolation passes
	Interp int `json:"interp"`

	// FlipAzimuth negates the azimuth of every point, for positioners that
	// turn opposite to the pattern convention
	FlipAzimuth bool `json:"flipAzimuth"`

	// Normalize shifts amplitudes so the smallest is zero
	Normalize bool `json:"normalize"`
}

// DefaultOptions are the options used for the chamber's usual sweeps
func DefaultOptions() Options {
	return Options{Order: ElevationMajor, Mode: Sphere, FlipAzimuth: true, Normalize: true}
}

// Pattern is an assembled, projected and possibly interpolated grid.
// Every matrix has the same dimensions and index (i, j) refers to the same
// physical location in all of them.
type Pattern struct {
	Azimuth   *mat.Dense
	Elevation *mat.Dense
	Amplitude *mat.Dense
	X         *mat.Dense
	Y         *mat.Dense
	Z         *mat.Dense

	// Peak is the largest amplitude before normalization
	Peak float64

	Mode Mode
}

// Dims returns the grid dimensions
func (p *Pattern) Dims() (r, c int) {
	return p.Amplitude.Dims()
}

// Interpolate returns a copy of p with every matrix interpolated k times
func (p *Pattern) Interpolate(k int) *Pattern {
	return &Pattern{
		Azimuth:   InterpolateN(p.Azimuth, k),
		Elevation: InterpolateN(p.Elevation, k),
		Amplitude: InterpolateN(p.Amplitude, k),
		X:         InterpolateN(p.X, k),
		Y:         InterpolateN(p.Y, k),
		Z:         InterpolateN(p.Z, k),
		Peak:      p.Peak,
		Mode:      p.Mode,
	}
}

func flip(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		p.Azimuth = -p.Azimuth
		out[i] = p
	}
	return out
}

// Build assembles pts into a grid, projects it and interpolates it
func Build(pts []Point, opts Options) (*Pattern, error) {
	if opts.FlipAzimuth {
		pts = flip(pts)
	}
	g, err := Assemble(pts, opts.Order)
	if err != nil {
		return nil, err
	}
	amp := g.Amplitude
	raw := amp.RawMatrix().Data
	peak := floats.Max(raw)
	if opts.Normalize {
		min := floats.Min(raw)
		amp = mat.DenseCopyOf(amp)
		amp.Apply(func(_, _ int, v float64) float64 { return v - min }, amp)
	}
	x, y, z := Project(g.Azimuth, g.Elevation, amp, opts.Mode)
	p := &Pattern{
		Azimuth:   g.Azimuth,
		Elevation: g.Elevation,
		Amplitude: amp,
		X:         x,
		Y:         y,
		Z:         z,
		Peak:      peak,
		Mode:      opts.Mode,
	}
	if opts.Interp > 0 {
		p = p.Interpolate(opts.Interp)
	}
	return p, nil
}

// Slice sorts pts and returns their column angles and amplitudes in order,
// for amplitude versus angle plots of a single cut
func Slice(pts []Point, opts Options) (angle, amplitude []float64) {
	if opts.FlipAzimuth {
		pts = flip(pts)
	}
	sorted := sortPoints(pts, opts.Order)
	angle = make([]float64, len(sorted))
	amplitude = make([]float64, len(sorted))
	for i, p := range sorted {
		_, angle[i] = opts.Order.keys(p)
		amplitude[i] = p.Amplitude
	}
	return angle, amplitude
}

// ReadPoints loads every measurement file directly inside dir and reduces each
// trace to its maximum.  Files are read in parallel.
func ReadPoints(dir string) ([]Point, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+measurement.Ext))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &NoDataError{Dir: dir}
	}
	pts := make([]Point, len(files))
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var g errgroup.Group
	for i, fn := range files {
		i, fn := i, fn
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			az, el, err := measurement.ParseAngles(fn)
			if err != nil {
				return err
			}
			rec, err := measurement.Load(fn)
			if err != nil {
				return err
			}
			peak, err := rec.Peak()
			if err != nil {
				return errors.Wrap(err, fn)
			}
			pts[i] = Point{Azimuth: az, Elevation: el, Amplitude: peak}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"dir": dir, "files": len(files)}).Debug("measurement points read")
	return pts, nil
}

// Load reads the measurement files in dir and builds a pattern from them
func Load(dir string, opts Options) (*Pattern, error) {
	pts, err := ReadPoints(dir)
	if err != nil {
		return nil, err
	}
	p, err := Build(pts, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "building pattern from %s", dir)
	}
	return p, nil
}
