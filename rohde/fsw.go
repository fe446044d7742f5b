package rohde

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/comm"
	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/scpi"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	traceASCII  = "FORM ASC;:TRAC? TRACE1"
	traceREAL32 = "FORM REAL,32;:TRAC? TRACE1"

	// screenshotFile is where the instrument stores a hardcopy before it is
	// transferred; it is deleted afterwards
	screenshotFile = `c:\temp\fswlab_screenshot.png`
)

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// FSW is a controller for a single FSW.  All operations are serialized, the
// instrument is owned exclusively over a single connection.
type FSW struct {
	cfg Config
	bus scpi.SCPI
	rec *measurement.Recorder
	now func() time.Time

	mu     sync.Mutex
	state  State
	id     Identity
	params SweepConfig
}

// NewFSW returns a disconnected controller.  DataDir must exist.
func NewFSW(cfg Config) (*FSW, error) {
	if _, err := cfg.maker(); err != nil {
		return nil, err
	}
	rec, err := measurement.NewRecorder(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	f := &FSW{
		cfg: cfg,
		rec: rec,
		now: time.Now,
		bus: scpi.SCPI{Handshaking: cfg.Handshaking, Timeout: cfg.timeout()},
	}
	if cfg.RateLimit > 0 {
		f.bus.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return f, nil
}

// Recorder returns the recorder measurements are written with
func (f *FSW) Recorder() *measurement.Recorder {
	return f.rec
}

// State returns the current lifecycle state
func (f *FSW) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Identity returns the identity read when connecting
func (f *FSW) Identity() Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

// ready must be called with mu held
func (f *FSW) ready() error {
	if f.state == Disconnected {
		return ErrNotConnected
	}
	if f.state != Idle {
		return errors.Errorf("instrument is busy %s", f.state)
	}
	return nil
}

// Connect opens the session, identifies the instrument, turns continuous
// sweep off and reads the current parameters.  A failed connect leaves the
// controller disconnected, it is not retried.
func (f *FSW) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Disconnected {
		return nil
	}
	maker, err := f.cfg.maker()
	if err != nil {
		return err
	}
	f.bus.Pool = comm.NewPool(1, time.Hour, maker)
	if err := f.open(); err != nil {
		f.bus.Pool.Close()
		f.bus.Pool = nil
		f.state = Disconnected
		return errors.Wrapf(err, "connecting to FSW at %s", f.cfg.Addr)
	}
	log.WithFields(log.Fields{
		"addr":     f.cfg.Addr,
		"model":    f.id.Model,
		"serial":   f.id.Serial,
		"firmware": f.id.Firmware,
	}).Info("connected to analyzer")
	return nil
}

func (f *FSW) open() error {
	idn, err := f.bus.ReadString("*IDN?")
	if err != nil {
		return err
	}
	f.id, err = ParseIdentity(idn)
	if err != nil {
		return err
	}
	f.state = Idle
	if err = f.bus.Write("SYST:DISP:UPD", onOff(f.cfg.DisplayUpdate)); err != nil {
		return err
	}
	if err = f.bus.Write("INIT:CONT OFF"); err != nil {
		return err
	}
	if f.cfg.ConfigureOnConnect {
		return f.configure(f.cfg.Sweep)
	}
	f.params, err = f.parameters()
	return err
}

// Close ends the session
func (f *FSW) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Disconnected {
		return nil
	}
	err := f.bus.Pool.Close()
	f.bus.Pool = nil
	f.state = Disconnected
	return err
}

// Configure sends the sweep parameters, waits for the instrument to settle
// and reads them back
func (f *FSW) Configure(c SweepConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	return f.configure(c)
}

func (f *FSW) configure(c SweepConfig) error {
	f.state = Configuring
	defer func() { f.state = Idle }()
	cmds := []string{
		fmt.Sprintf("DISP:WIND:TRAC:Y:RLEV %g", c.RefLevel),
		fmt.Sprintf("FREQ:CENT %g", c.Center),
		fmt.Sprintf("FREQ:SPAN %g", c.Span),
		fmt.Sprintf("BAND %g", c.RBW),
		fmt.Sprintf("BAND:VID %g", c.VBW),
		fmt.Sprintf("SWE:POIN %d", c.Points),
	}
	for _, cmd := range cmds {
		if err := f.bus.Write(cmd); err != nil {
			return errors.Wrapf(err, "sending %s", cmd)
		}
	}
	done, err := f.bus.QueryOPC()
	if err != nil {
		return err
	}
	if !done {
		return errors.New("instrument did not report settings complete")
	}
	f.params, err = f.parameters()
	return err
}

// Parameters reads the sweep parameters from the instrument
func (f *FSW) Parameters() (SweepConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return SweepConfig{}, err
	}
	p, err := f.parameters()
	if err == nil {
		f.params = p
	}
	return p, err
}

func (f *FSW) parameters() (SweepConfig, error) {
	var (
		c   SweepConfig
		err error
	)
	floats := []struct {
		cmd string
		dst *float64
	}{
		{"DISP:WIND:TRAC:Y:RLEV?", &c.RefLevel},
		{"FREQ:CENT?", &c.Center},
		{"FREQ:SPAN?", &c.Span},
		{"BAND?", &c.RBW},
		{"BAND:VID?", &c.VBW},
	}
	for _, q := range floats {
		*q.dst, err = f.bus.ReadFloat(q.cmd)
		if err != nil {
			return c, errors.Wrapf(err, "querying %s", q.cmd)
		}
	}
	c.Points, err = f.bus.ReadInt("SWE:POIN?")
	if err != nil {
		return c, errors.Wrap(err, "querying SWE:POIN?")
	}
	return c, nil
}

// Sweep triggers a single sweep and blocks until it completes.  scpi.ErrTimeout
// is returned if it runs longer than the configured OPCTimeout.
func (f *FSW) Sweep() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	return f.sweep()
}

func (f *FSW) sweep() error {
	f.state = Sweeping
	defer func() { f.state = Idle }()
	start := time.Now()
	if err := f.bus.WriteWithOPC(f.cfg.opcTimeout(), "INIT"); err != nil {
		return err
	}
	log.WithField("elapsed", time.Since(start)).Debug("sweep complete")
	return nil
}

// Trace fetches TRACE1
func (f *FSW) Trace() ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.trace()
}

func (f *FSW) trace() ([]float64, error) {
	f.state = Reading
	defer func() { f.state = Idle }()
	cmd := traceASCII
	if f.cfg.Binary {
		cmd = traceREAL32
	}
	tr, err := f.bus.ReadFloats(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "reading trace")
	}
	if len(tr) == 0 {
		return nil, measurement.ErrEmptyTrace
	}
	return tr, nil
}

// MarkerMax moves marker 1 to the peak of the trace and returns its position
func (f *FSW) MarkerMax() (Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return Marker{}, err
	}
	return f.markerMax()
}

func (f *FSW) markerMax() (Marker, error) {
	var (
		m   Marker
		err error
	)
	f.state = Reading
	defer func() { f.state = Idle }()
	if err = f.bus.WriteWithOPC(f.cfg.opcTimeout(), "CALC1:MARK1:MAX"); err != nil {
		return m, err
	}
	if m.X, err = f.bus.ReadFloat("CALC1:MARK1:X?"); err != nil {
		return m, err
	}
	m.Y, err = f.bus.ReadFloat("CALC1:MARK1:Y?")
	return m, err
}

// Measure sweeps, fetches the trace and the peak marker, and writes them to
// a measurement file named name in the recorder's folder.  The record and the
// path of the file are returned.  An empty name uses a timestamp.
func (f *FSW) Measure(name string) (measurement.Record, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rec measurement.Record
	if err := f.ready(); err != nil {
		return rec, "", err
	}
	if err := measurement.CheckName(name); err != nil {
		return rec, "", err
	}
	if err := f.sweep(); err != nil {
		return rec, "", err
	}
	tr, err := f.trace()
	if err != nil {
		return rec, "", err
	}
	m, err := f.markerMax()
	if err != nil {
		return rec, "", err
	}
	rec = newRecord(f.now(), f.params, tr, m)
	fn, err := f.rec.Write(name, &rec)
	return rec, fn, err
}

func newRecord(now time.Time, p SweepConfig, trace []float64, m Marker) measurement.Record {
	return measurement.Record{
		Header: measurement.Header{
			Date:    now,
			Center:  p.Center,
			Span:    p.Span,
			Points:  p.Points,
			MarkerX: m.X,
			MarkerY: m.Y,
		},
		Trace: trace,
	}
}

// Screenshot saves a PNG hardcopy of the screen on the instrument, transfers
// it, and writes it to w
func (f *FSW) Screenshot(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	f.state = Reading
	defer func() { f.state = Idle }()
	for _, cmd := range []string{
		"HCOP:DEV:LANG PNG",
		fmt.Sprintf("MMEM:NAME '%s'", screenshotFile),
		"HCOP:IMM",
	} {
		if err := f.bus.Write(cmd); err != nil {
			return errors.Wrapf(err, "sending %s", cmd)
		}
	}
	if _, err := f.bus.QueryOPC(); err != nil {
		return err
	}
	data, err := f.bus.ReadBlock(fmt.Sprintf("MMEM:DATA? '%s'", screenshotFile))
	if err != nil {
		return errors.Wrap(err, "transferring screenshot")
	}
	if err := f.bus.Write(fmt.Sprintf("MMEM:DEL '%s'", screenshotFile)); err != nil {
		log.WithError(err).Warn("could not delete screenshot on instrument")
	}
	_, err = w.Write(data)
	return err
}

// SetDisplayUpdate turns the instrument display on or off while remote controlled
func (f *FSW) SetDisplayUpdate(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	return f.bus.Write("SYST:DISP:UPD", onOff(on))
}

// SetContinuousSweep turns continuous sweeping on or off
func (f *FSW) SetContinuousSweep(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	return f.bus.Write("INIT:CONT", onOff(on))
}

// Raw sends a command and returns the response if it was a query
func (f *FSW) Raw(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return "", err
	}
	return f.bus.Raw(cmd)
}

// Errors drains the instrument's error queue
func (f *FSW) Errors() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return "", err
	}
	return f.bus.AllErrorsString()
}

var _ Analyzer = (*FSW)(nil)
