package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot/vg"

	"github.com/rfchamber/fswlab/generichttp"
	"github.com/rfchamber/fswlab/generichttp/analyzer"
	"github.com/rfchamber/fswlab/generichttp/radiation"
	"github.com/rfchamber/fswlab/mathx"
	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/pattern"
	"github.com/rfchamber/fswlab/render"
	"github.com/rfchamber/fswlab/rohde"
	"github.com/rfchamber/fswlab/server/middleware/locker"
)

// PatternConfig holds how measurement directories are turned into figures
type PatternConfig struct {
	// Order is "elevation" (rows are elevations) or "azimuth"
	Order string `koanf:"Order" yaml:"Order"`

	// Mode is "sphere" or "lobe"
	Mode string `koanf:"Mode" yaml:"Mode"`

	// Interp is the number of midpoint interpolation passes
	Interp int `koanf:"Interp" yaml:"Interp"`

	// FlipAzimuth negates azimuths, for positioners turning the other way
	FlipAzimuth bool `koanf:"FlipAzimuth" yaml:"FlipAzimuth"`

	// Normalize shifts amplitudes so the smallest is zero
	Normalize bool `koanf:"Normalize" yaml:"Normalize"`

	// ViewAzimuth and ViewElevation orient the 3-D surface, in degrees
	ViewAzimuth   float64 `koanf:"ViewAzimuth" yaml:"ViewAzimuth"`
	ViewElevation float64 `koanf:"ViewElevation" yaml:"ViewElevation"`

	// Kinds are the renderings made by the pattern and watch commands
	Kinds []string `koanf:"Kinds" yaml:"Kinds"`

	// Format is the image format, png, svg, pdf or jpg
	Format string `koanf:"Format" yaml:"Format"`

	// Size is the edge length of figures in inches
	Size float64 `koanf:"Size" yaml:"Size"`
}

// Options converts the configuration to builder options
func (c PatternConfig) Options() (pattern.Options, error) {
	opts := pattern.Options{Interp: c.Interp, FlipAzimuth: c.FlipAzimuth, Normalize: c.Normalize}
	var err error
	if opts.Order, err = pattern.ParseOrder(c.Order); err != nil {
		return opts, err
	}
	if opts.Mode, err = pattern.ParseMode(c.Mode); err != nil {
		return opts, err
	}
	return opts, nil
}

// Jobs returns one render job per configured kind for dir
func (c PatternConfig) Jobs(dir string) ([]render.Job, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	var jobs []render.Job
	for _, s := range c.Kinds {
		kind, err := render.ParseKind(s)
		if err != nil {
			return nil, err
		}
		j := render.NewJob(dir, kind, c.Format)
		j.Options = opts
		j.View = render.View{Azimuth: c.ViewAzimuth, Elevation: c.ViewElevation}
		if c.Size > 0 {
			j.Width = vg.Length(c.Size) * vg.Inch
			j.Height = j.Width
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Range is an inclusive range of angles in degrees
type Range struct {
	Start float64 `koanf:"Start" yaml:"Start"`
	Stop  float64 `koanf:"Stop" yaml:"Stop"`
	Step  float64 `koanf:"Step" yaml:"Step"`
}

// Values returns Start, Start+Step, ... through Stop
func (r Range) Values() []float64 {
	return mathx.Arange(r.Start, r.Stop+r.Step/2, r.Step)
}

// SimulateConfig is the grid the simulate command sweeps
type SimulateConfig struct {
	// Prefix starts every file name
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	Azimuth   Range `koanf:"Azimuth" yaml:"Azimuth"`
	Elevation Range `koanf:"Elevation" yaml:"Elevation"`
}

// Config is the whole configuration of the program
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces the instrument with a simulation
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// LogLevel is a logrus level name
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	// DataRoot bounds the directories the server renders patterns from
	DataRoot string `koanf:"DataRoot" yaml:"DataRoot"`

	FSW      rohde.Config   `koanf:"FSW" yaml:"FSW"`
	Pattern  PatternConfig  `koanf:"Pattern" yaml:"Pattern"`
	Simulate SimulateConfig `koanf:"Simulate" yaml:"Simulate"`
}

// DefaultConfig is written by mkconf and underlies every other source
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		LogLevel: "info",
		DataRoot: ".",
		FSW:      rohde.DefaultConfig(),
		Pattern: PatternConfig{
			Order:         pattern.ElevationMajor.String(),
			Mode:          pattern.Sphere.String(),
			FlipAzimuth:   true,
			Normalize:     true,
			ViewAzimuth:   render.DefaultView.Azimuth,
			ViewElevation: render.DefaultView.Elevation,
			Kinds:         []string{string(render.KindHeatmap), string(render.KindSurface)},
			Format:        "png",
			Size:          6,
		},
		Simulate: SimulateConfig{
			Prefix:    "sim",
			Azimuth:   Range{Start: -90, Stop: 90, Step: 10},
			Elevation: Range{Start: -30, Stop: 30, Step: 10},
		},
	}
}

// newAnalyzer returns the simulation or the instrument the config names
func newAnalyzer(c Config) (rohde.Analyzer, error) {
	if c.Mock {
		return rohde.NewMock(c.FSW.DataDir)
	}
	return rohde.NewFSW(c.FSW)
}

// BuildMux mounts the analyzer under /fsw and the pattern renderer under
// /patterns, each with its own lock.  /endpoints lists every route and
// /metrics serves reg.
func BuildMux(c Config, a rohde.Analyzer, reg *prometheus.Registry) (chi.Router, error) {
	metrics, err := analyzer.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	opts, err := c.Pattern.Options()
	if err != nil {
		return nil, err
	}
	rad := radiation.NewHTTPPattern(c.DataRoot, opts)
	rad.View = render.View{Azimuth: c.Pattern.ViewAzimuth, Elevation: c.Pattern.ViewElevation}

	nodes := []struct {
		endpoint string
		httper   generichttp.HTTPer
		lock     *locker.Locker
	}{
		{"fsw", analyzer.NewHTTPAnalyzer(a, metrics), locker.New()},
		{"patterns", rad, locker.NewReadThrough()},
	}

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	for _, node := range nodes {
		// prepare the URL, "fsw/" => "/fsw"
		hndlS := generichttp.SubMuxSanitize(node.endpoint)

		locker.Inject(node.httper, node.lock)
		supergraph[hndlS] = node.httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(node.lock.Check)
		node.httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return root, nil
}

// renderDir runs every job and saves the results next to the measurements.
// The paths written are returned.
func renderDir(jobs []render.Job) ([]string, error) {
	var out []string
	for _, j := range jobs {
		fn := filepath.Join(j.Dir, j.FileName())
		f, err := os.Create(fn)
		if err != nil {
			return out, err
		}
		err = j.Render(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(fn)
			return out, errors.Wrapf(err, "rendering %s", j.Kind)
		}
		log.WithField("file", fn).Debug("rendered")
		out = append(out, fn)
	}
	return out, nil
}

// simulateGrid points m at every position of the grid and measures there.
// progress, if not nil, is called before each measurement.
func simulateGrid(m *rohde.Mock, sc SimulateConfig, progress func(az, el float64)) ([]string, error) {
	prefix := sc.Prefix
	if prefix == "" {
		prefix = "sim"
	}
	var files []string
	for _, el := range sc.Elevation.Values() {
		for _, az := range sc.Azimuth.Values() {
			if progress != nil {
				progress(az, el)
			}
			m.Point(az, el)
			_, fn, err := m.Measure(measurement.FileName(prefix, az, el))
			if err != nil {
				return files, err
			}
			files = append(files, fn)
		}
	}
	return files, nil
}
