package render

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot/vg"

	"github.com/rfchamber/fswlab/pattern"
)

// Kind names one of the renderings of a measurement directory
type Kind string

const (
	// KindHeatmap is an az/el color plot
	KindHeatmap Kind = "heatmap"

	// KindSlice is amplitude against angle for a single cut
	KindSlice Kind = "slice"

	// KindSurface is the projected 3-D surface
	KindSurface Kind = "surface"

	// KindFITS is the amplitude grid as a FITS image
	KindFITS Kind = "fits"
)

// Kinds lists every kind, in the order the CLI renders them
var Kinds = []Kind{KindHeatmap, KindSlice, KindSurface, KindFITS}

// ParseKind converts a name to a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(s))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", errors.Errorf("unknown rendering %q, must be one of %v", s, Kinds)
}

// ContentTypes maps output formats to MIME types
var ContentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"svg":  "image/svg+xml",
	"pdf":  "application/pdf",
	"eps":  "application/postscript",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"fits": "image/fits",
}

// Job renders the measurements in one directory
type Job struct {
	Dir     string
	Kind    Kind
	Format  string
	Options pattern.Options
	View    View
	Width   vg.Length
	Height  vg.Length
}

// NewJob returns a job with the default options, view and size
func NewJob(dir string, kind Kind, format string) Job {
	return Job{
		Dir:     dir,
		Kind:    kind,
		Format:  format,
		Options: pattern.DefaultOptions(),
		View:    DefaultView,
		Width:   DefaultSize,
		Height:  DefaultSize,
	}
}

// FileName is the name the output is saved under, <dir name>_<kind>.<format>
func (j Job) FileName() string {
	format := j.Format
	if j.Kind == KindFITS {
		format = "fits"
	}
	return fmt.Sprintf("%s_%s.%s", filepath.Base(filepath.Clean(j.Dir)), j.Kind, format)
}

// Render reads the directory and encodes the rendering to w
func (j Job) Render(w io.Writer) error {
	pts, err := pattern.ReadPoints(j.Dir)
	if err != nil {
		return err
	}
	if j.Kind == KindSlice {
		angle, amp := pattern.Slice(pts, j.Options)
		fig, err := SlicePlot(angle, amp, filepath.Base(filepath.Clean(j.Dir)))
		if err != nil {
			return err
		}
		return fig.WriteTo(w, j.Width, j.Height, j.Format)
	}

	p, err := pattern.Build(pts, j.Options)
	if err != nil {
		return errors.Wrapf(err, "building pattern from %s", j.Dir)
	}
	var fig *Figure
	switch j.Kind {
	case KindHeatmap:
		fig, err = Heatmap(p)
		if err != nil {
			return err
		}
	case KindSurface:
		fig = Surface3D(p, j.View)
	case KindFITS:
		return WriteFITS(w, p)
	default:
		return errors.Errorf("unknown rendering %q", j.Kind)
	}
	return fig.WriteTo(w, j.Width, j.Height, j.Format)
}
