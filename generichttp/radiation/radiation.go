// Package radiation provides an HTTP interface to radiation pattern rendering
// of measurement directories
package radiation

import (
	"bytes"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rfchamber/fswlab/generichttp"
	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/pattern"
	"github.com/rfchamber/fswlab/render"
)

// HTTPPattern renders directories below Root
type HTTPPattern struct {
	// Root bounds the directories that may be rendered
	Root string

	// Options are the defaults query parameters override
	Options pattern.Options

	// View is the default surface view
	View render.View

	RouteTable generichttp.RouteTable
}

// NewHTTPPattern returns a new HTTP wrapper with the route table pre-configured
func NewHTTPPattern(root string, opts pattern.Options) HTTPPattern {
	h := HTTPPattern{Root: root, Options: opts, View: render.DefaultView}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/pattern/{file}"}: h.render,
		{Method: http.MethodGet, Path: "/datasets"}:       h.datasets,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPPattern) RT() generichttp.RouteTable {
	return h.RouteTable
}

// resolve maps a client supplied directory into Root.  Cleaning it as an
// absolute path first drops any leading "..".
func (h HTTPPattern) resolve(dir string) string {
	return filepath.Join(h.Root, filepath.FromSlash(path.Clean("/"+dir)))
}

// parseFile splits "heatmap.png" into its kind and format.  FITS needs no
// format, so "fits" alone is accepted.
func parseFile(file string) (render.Kind, string, error) {
	name, format := file, ""
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		name, format = file[:i], file[i+1:]
	}
	kind, err := render.ParseKind(name)
	if err != nil {
		return "", "", err
	}
	if kind == render.KindFITS {
		return kind, "fits", nil
	}
	if format == "" {
		format = "png"
	}
	if _, ok := render.ContentTypes[format]; !ok || format == "fits" {
		return "", "", errors.Errorf("unsupported format %q", format)
	}
	return kind, format, nil
}

// job builds a render job from the request URL.  Recognized query
// parameters are dir, interp, mode, order, flip, normalize, azim and elev.
func (h HTTPPattern) job(r *http.Request) (render.Job, error) {
	kind, format, err := parseFile(chi.URLParam(r, "file"))
	if err != nil {
		return render.Job{}, err
	}
	q := r.URL.Query()
	j := render.NewJob(h.resolve(q.Get("dir")), kind, format)
	j.Options = h.Options
	j.View = h.View
	if s := q.Get("interp"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 4 {
			return j, errors.Errorf("interp %q must be an integer from 0 to 4", s)
		}
		j.Options.Interp = n
	}
	if s := q.Get("mode"); s != "" {
		if j.Options.Mode, err = pattern.ParseMode(s); err != nil {
			return j, err
		}
	}
	if s := q.Get("order"); s != "" {
		if j.Options.Order, err = pattern.ParseOrder(s); err != nil {
			return j, err
		}
	}
	for key, dst := range map[string]*bool{"flip": &j.Options.FlipAzimuth, "normalize": &j.Options.Normalize} {
		if s := q.Get(key); s != "" {
			if *dst, err = strconv.ParseBool(s); err != nil {
				return j, errors.Wrap(err, key)
			}
		}
	}
	for key, dst := range map[string]*float64{"azim": &j.View.Azimuth, "elev": &j.View.Elevation} {
		if s := q.Get(key); s != "" {
			if *dst, err = strconv.ParseFloat(s, 64); err != nil {
				return j, errors.Wrap(err, key)
			}
		}
	}
	return j, nil
}

// statusOf maps rendering failures to HTTP status codes
func statusOf(err error) int {
	switch errors.Cause(err).(type) {
	case *pattern.NoDataError:
		return http.StatusNotFound
	case *pattern.ShapeError, *render.SizeError:
		return http.StatusUnprocessableEntity
	}
	if os.IsNotExist(errors.Cause(err)) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h HTTPPattern) render(w http.ResponseWriter, r *http.Request) {
	j, err := h.job(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// rendered to memory first so a failure can still set the status code
	buf := &bytes.Buffer{}
	if err = j.Render(buf); err != nil {
		log.WithField("dir", j.Dir).WithError(err).Warn("pattern rendering failed")
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", render.ContentTypes[j.Format])
	hdr.Set("Content-Disposition", "inline; filename=\""+j.FileName()+"\"")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// Datasets returns the directories below root, relative to it and slash
// separated, that contain at least one measurement file
func Datasets(root string) ([]string, error) {
	seen := map[string]bool{}
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(p) != measurement.Ext {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		seen[filepath.ToSlash(rel)] = true
		return nil
	})
	out := make([]string, 0, len(seen))
	for dir := range seen {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out, err
}

func (h HTTPPattern) datasets(w http.ResponseWriter, r *http.Request) {
	dirs, err := Datasets(h.Root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, dirs)
}
