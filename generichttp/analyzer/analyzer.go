// Package analyzer provides an HTTP interface to spectrum analyzers
package analyzer

import (
	"encoding/json"
	"go/types"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/rfchamber/fswlab/generichttp"
	"github.com/rfchamber/fswlab/generichttp/ascii"
	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/rohde"
)

// Metrics are the prometheus collectors updated by the HTTP interface.
// A nil *Metrics records nothing.
type Metrics struct {
	Sweeps       prometheus.Counter
	SweepSeconds prometheus.Histogram
	Measurements prometheus.Counter
	Errors       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fswlab",
			Name:      "sweeps_total",
			Help:      "Sweeps triggered, including those of measurements",
		}),
		SweepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fswlab",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time from INIT to operation complete",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		Measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fswlab",
			Name:      "measurements_total",
			Help:      "Measurement files written",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fswlab",
			Name:      "errors_total",
			Help:      "Failed analyzer operations by route",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.Sweeps, m.SweepSeconds, m.Measurements, m.Errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sweep(start time.Time) {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
	m.SweepSeconds.Observe(time.Since(start).Seconds())
}

func (m *Metrics) measurement() {
	if m == nil {
		return
	}
	m.Measurements.Inc()
}

func (m *Metrics) fail(op string, err error) {
	log.WithField("op", op).WithError(err).Warn("analyzer request failed")
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(op).Inc()
}

// HTTPAnalyzer wraps an analyzer in an HTTP route table
type HTTPAnalyzer struct {
	A rohde.Analyzer

	RouteTable generichttp.RouteTable

	metrics *Metrics
}

// NewHTTPAnalyzer returns a new HTTP wrapper with the route table pre-configured.
// metrics may be nil.
func NewHTTPAnalyzer(a rohde.Analyzer, metrics *Metrics) HTTPAnalyzer {
	h := HTTPAnalyzer{A: a, metrics: metrics}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/center"}:      h.getParam("center", func(c rohde.SweepConfig) float64 { return c.Center }),
		{Method: http.MethodPost, Path: "/center"}:     h.setParam("center", func(c *rohde.SweepConfig, f float64) { c.Center = f }),
		{Method: http.MethodGet, Path: "/span"}:        h.getParam("span", func(c rohde.SweepConfig) float64 { return c.Span }),
		{Method: http.MethodPost, Path: "/span"}:       h.setParam("span", func(c *rohde.SweepConfig, f float64) { c.Span = f }),
		{Method: http.MethodGet, Path: "/rbw"}:         h.getParam("rbw", func(c rohde.SweepConfig) float64 { return c.RBW }),
		{Method: http.MethodPost, Path: "/rbw"}:        h.setParam("rbw", func(c *rohde.SweepConfig, f float64) { c.RBW = f }),
		{Method: http.MethodGet, Path: "/vbw"}:         h.getParam("vbw", func(c rohde.SweepConfig) float64 { return c.VBW }),
		{Method: http.MethodPost, Path: "/vbw"}:        h.setParam("vbw", func(c *rohde.SweepConfig, f float64) { c.VBW = f }),
		{Method: http.MethodGet, Path: "/reflevel"}:    h.getParam("reflevel", func(c rohde.SweepConfig) float64 { return c.RefLevel }),
		{Method: http.MethodPost, Path: "/reflevel"}:   h.setParam("reflevel", func(c *rohde.SweepConfig, f float64) { c.RefLevel = f }),
		{Method: http.MethodGet, Path: "/points"}:      h.getPoints,
		{Method: http.MethodPost, Path: "/points"}:     h.setPoints,
		{Method: http.MethodGet, Path: "/configure"}:   h.getConfig,
		{Method: http.MethodPost, Path: "/configure"}:  h.configure,
		{Method: http.MethodPost, Path: "/sweep"}:      h.sweep,
		{Method: http.MethodGet, Path: "/trace"}:       h.trace,
		{Method: http.MethodGet, Path: "/marker"}:      h.marker,
		{Method: http.MethodPost, Path: "/measure"}:    h.measure,
		{Method: http.MethodGet, Path: "/screenshot"}:  h.screenshot,
		{Method: http.MethodGet, Path: "/idn"}:         h.identity,
		{Method: http.MethodGet, Path: "/state"}:       h.state,
		{Method: http.MethodPost, Path: "/connect"}:    h.connect,
		{Method: http.MethodPost, Path: "/display"}:    generichttp.SetBool(a.SetDisplayUpdate),
		{Method: http.MethodPost, Path: "/continuous"}: generichttp.SetBool(a.SetContinuousSweep),
	}
	ascii.InjectRawComm(rt, a)
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPAnalyzer) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPAnalyzer) fail(w http.ResponseWriter, op string, err error, code int) {
	h.metrics.fail(op, err)
	http.Error(w, err.Error(), code)
}

func (h HTTPAnalyzer) getParam(op string, get func(rohde.SweepConfig) float64) http.HandlerFunc {
	return generichttp.GetFloat(func() (float64, error) {
		c, err := h.A.Parameters()
		if err != nil {
			h.metrics.fail(op, err)
		}
		return get(c), err
	})
}

// setParam changes one field of the current configuration and sends the whole
// configuration back, so the others are preserved
func (h HTTPAnalyzer) setParam(op string, set func(*rohde.SweepConfig, float64)) http.HandlerFunc {
	return generichttp.SetFloat(func(f float64) error {
		c, err := h.A.Parameters()
		if err == nil {
			set(&c, f)
			err = h.A.Configure(c)
		}
		if err != nil {
			h.metrics.fail(op, err)
		}
		return err
	})
}

func (h HTTPAnalyzer) getPoints(w http.ResponseWriter, r *http.Request) {
	c, err := h.A.Parameters()
	if err != nil {
		h.fail(w, "points", err, http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.Int, Int: c.Points}
	hp.EncodeAndRespond(w, r)
}

func (h HTTPAnalyzer) setPoints(w http.ResponseWriter, r *http.Request) {
	generichttp.SetInt(func(n int) error {
		c, err := h.A.Parameters()
		if err == nil {
			c.Points = n
			err = h.A.Configure(c)
		}
		if err != nil {
			h.metrics.fail("points", err)
		}
		return err
	})(w, r)
}

func (h HTTPAnalyzer) getConfig(w http.ResponseWriter, r *http.Request) {
	c, err := h.A.Parameters()
	if err != nil {
		h.fail(w, "configure", err, http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, c)
}

// DecodeSweep overlays a loosely typed map on base.  Numbers may be given
// as strings, so {"center": "2.4e9"} is accepted.
func DecodeSweep(base rohde.SweepConfig, in map[string]interface{}) (rohde.SweepConfig, error) {
	out := base
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return base, err
	}
	if err = dec.Decode(in); err != nil {
		return base, err
	}
	return out, nil
}

// configure applies a partial sweep configuration and responds with the
// configuration the analyzer reports afterwards
func (h HTTPAnalyzer) configure(w http.ResponseWriter, r *http.Request) {
	in := map[string]interface{}{}
	err := json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := h.A.Parameters()
	if err != nil {
		h.fail(w, "configure", err, http.StatusInternalServerError)
		return
	}
	c, err = DecodeSweep(c, in)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = c.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.A.Configure(c); err != nil {
		h.fail(w, "configure", err, http.StatusInternalServerError)
		return
	}
	h.getConfig(w, r)
}

func (h HTTPAnalyzer) sweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.A.Sweep(); err != nil {
		h.fail(w, "sweep", err, http.StatusInternalServerError)
		return
	}
	h.metrics.sweep(start)
	w.WriteHeader(http.StatusOK)
}

func (h HTTPAnalyzer) trace(w http.ResponseWriter, r *http.Request) {
	tr, err := h.A.Trace()
	if err != nil {
		h.fail(w, "trace", err, http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, tr)
}

func (h HTTPAnalyzer) marker(w http.ResponseWriter, r *http.Request) {
	m, err := h.A.MarkerMax()
	if err != nil {
		h.fail(w, "marker", err, http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, m)
}

// MeasureResponse is returned by POST /measure
type MeasureResponse struct {
	File   string       `json:"file"`
	Peak   float64      `json:"peak"`
	Marker rohde.Marker `json:"marker"`
	Points int          `json:"points"`
	Date   time.Time    `json:"date"`
}

// measure accepts an optional {"str": name}, an empty body uses the
// recorder's timestamped name
func (h HTTPAnalyzer) measure(w http.ResponseWriter, r *http.Request) {
	s := generichttp.StrT{}
	if r.ContentLength != 0 {
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	start := time.Now()
	rec, fn, err := h.A.Measure(s.Str)
	if err != nil {
		code := http.StatusInternalServerError
		var bad *measurement.NameError
		if errors.As(err, &bad) {
			code = http.StatusBadRequest
		}
		h.fail(w, "measure", err, code)
		return
	}
	h.metrics.sweep(start)
	h.metrics.measurement()
	peak, err := rec.Peak()
	if err != nil {
		h.fail(w, "measure", err, http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, MeasureResponse{
		File:   fn,
		Peak:   peak,
		Marker: rohde.Marker{X: rec.MarkerX, Y: rec.MarkerY},
		Points: len(rec.Trace),
		Date:   rec.Date,
	})
}

func (h HTTPAnalyzer) screenshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	if err := h.A.Screenshot(w); err != nil {
		h.fail(w, "screenshot", err, http.StatusInternalServerError)
	}
}

func (h HTTPAnalyzer) identity(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.A.Identity())
}

func (h HTTPAnalyzer) state(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.String, String: h.A.State().String()}
	hp.EncodeAndRespond(w, r)
}

// connect opens ({"bool": true}) or closes ({"bool": false}) the instrument
func (h HTTPAnalyzer) connect(w http.ResponseWriter, r *http.Request) {
	generichttp.SetBool(func(b bool) error {
		var err error
		if b {
			err = h.A.Connect()
		} else {
			err = h.A.Close()
		}
		if err != nil {
			h.metrics.fail("connect", err)
		}
		return err
	})(w, r)
}
