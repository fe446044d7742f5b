package rohde

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/scpi"
	"github.com/rfchamber/fswlab/scpi/scpitest"
)

const testIDN = "Rohde&Schwarz,FSW-26,1312.8000K26/101234,4.80"

// simulator answers the subset of the FSW command set the controller uses
type simulator struct {
	mu       sync.Mutex
	settings map[string]string
	esr      string
	trace    string
}

func newSimulator() *simulator {
	return &simulator{
		esr:   "1",
		trace: "-80,-20.5,-79",
		settings: map[string]string{
			"DISP:WIND:TRAC:Y:RLEV": "10",
			"FREQ:CENT":             "3000000000",
			"FREQ:SPAN":             "200000000",
			"BAND":                  "100000",
			"BAND:VID":              "300000",
			"SWE:POIN":              "10001",
		},
	}
}

func (s *simulator) handle(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case cmd == "*IDN?":
		return testIDN
	case cmd == "*OPC?":
		return "1"
	case cmd == "*ESR?":
		return s.esr
	case cmd == "SYSTem:ERRor?":
		return `0,"No error"`
	case cmd == "TRAC? TRACE1":
		return s.trace
	case cmd == "CALC1:MARK1:X?":
		return "3.01E+09"
	case cmd == "CALC1:MARK1:Y?":
		return "-20.5"
	case strings.HasPrefix(cmd, "MMEM:DATA?"):
		return "#14PNG!"
	case strings.HasSuffix(cmd, "?"):
		return s.settings[strings.TrimSuffix(cmd, "?")]
	}
	pieces := strings.SplitN(cmd, " ", 2)
	if len(pieces) == 2 {
		s.settings[pieces[0]] = pieces[1]
	}
	return ""
}

func testConfig(t *testing.T, addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.Timeout = 1
	cfg.OPCTimeout = 1
	cfg.DataDir = t.TempDir()
	return cfg
}

func connected(t *testing.T) (*FSW, *simulator, *scpitest.Server) {
	sim := newSimulator()
	srv := scpitest.NewServer(t, sim.handle)
	f, err := NewFSW(testConfig(t, srv.Addr))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, sim, srv
}

func ExampleParseIdentity() {
	id, _ := ParseIdentity(testIDN)
	fmt.Println(id.Model, id.Firmware)
	// Output: FSW-26 4.80
}

func TestParseIdentityRejectsShort(t *testing.T) {
	if _, err := ParseIdentity("Rohde&Schwarz,FSW"); err == nil {
		t.Error("expected an error for a two field identity")
	}
}

func TestConnect(t *testing.T) {
	f, _, srv := connected(t)
	if st := f.State(); st != Idle {
		t.Errorf("expected idle got %s", st)
	}
	if m := f.Identity().Model; m != "FSW-26" {
		t.Errorf("expected FSW-26 got %s", m)
	}
	for _, cmd := range []string{"*IDN?", "SYST:DISP:UPD ON", "INIT:CONT OFF", "SWE:POIN?"} {
		if !srv.Contains(cmd) {
			t.Errorf("expected %s to be sent, got %v", cmd, srv.Received())
		}
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	f, err := NewFSW(testConfig(t, addr))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Connect(); err == nil {
		t.Fatal("expected connect to fail")
	}
	if st := f.State(); st != Disconnected {
		t.Errorf("expected disconnected after a failed connect, got %s", st)
	}
}

func TestUnknownTransport(t *testing.T) {
	cfg := testConfig(t, "x")
	cfg.Transport = "gpib"
	if _, err := NewFSW(cfg); err == nil {
		t.Error("expected an error for an unknown transport")
	}
}

func TestRequiresConnection(t *testing.T) {
	f, err := NewFSW(testConfig(t, "127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Sweep(); err != ErrNotConnected {
		t.Errorf("Sweep: expected ErrNotConnected got %v", err)
	}
	if _, err := f.Trace(); err != ErrNotConnected {
		t.Errorf("Trace: expected ErrNotConnected got %v", err)
	}
	if _, _, err := f.Measure(""); err != ErrNotConnected {
		t.Errorf("Measure: expected ErrNotConnected got %v", err)
	}
	if err := f.Configure(DefaultSweep()); err != ErrNotConnected {
		t.Errorf("Configure: expected ErrNotConnected got %v", err)
	}
}

func TestConfigureReadsBack(t *testing.T) {
	f, _, srv := connected(t)
	c := DefaultSweep()
	c.Center = 2.4e9
	c.Points = 1001
	if err := f.Configure(c); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []string{"FREQ:CENT 2.4e+09", "SWE:POIN 1001", "BAND:VID 300000", "*OPC?"} {
		if !srv.Contains(cmd) {
			t.Errorf("expected %s to be sent, got %v", cmd, srv.Received())
		}
	}
	got, err := f.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("parameters mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureValidates(t *testing.T) {
	f, _, srv := connected(t)
	before := len(srv.Received())
	c := DefaultSweep()
	c.Points = 10
	if err := f.Configure(c); err == nil {
		t.Fatal("expected a validation error")
	}
	if after := len(srv.Received()); after != before {
		t.Errorf("expected nothing sent, got %v", srv.Received()[before:])
	}
}

func TestSweepTimeout(t *testing.T) {
	f, sim, _ := connected(t)
	sim.mu.Lock()
	sim.esr = "0"
	sim.mu.Unlock()
	f.cfg.OPCTimeout = 0.1
	if err := f.Sweep(); errors.Cause(err) != scpi.ErrTimeout {
		t.Errorf("expected ErrTimeout got %v", err)
	}
	if st := f.State(); st != Idle {
		t.Errorf("expected idle after a timed out sweep, got %s", st)
	}
}

func TestMeasure(t *testing.T) {
	f, _, srv := connected(t)
	rec, fn, err := f.Measure("horn_10_20")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(fn) != "horn_10_20.txt" {
		t.Errorf("unexpected file %s", fn)
	}
	for _, cmd := range []string{"INIT", "*OPC", "FORM ASC", "CALC1:MARK1:MAX"} {
		if !srv.Contains(cmd) {
			t.Errorf("expected %s to be sent", cmd)
		}
	}
	got, err := measurement.Load(fn)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{-80, -20.5, -79}, got.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got.MarkerY != -20.5 || got.MarkerX != 3.01e9 || got.Center != 3e9 || got.Points != 10001 {
		t.Errorf("unexpected header %+v", got.Header)
	}
	if rec.Name != "horn_10_20.txt" {
		t.Errorf("expected the record to carry its file name, got %s", rec.Name)
	}
}

func TestBinaryTrace(t *testing.T) {
	f, sim, srv := connected(t)
	vals := []float32{-81, -12.5}
	data := make([]byte, 8)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	sim.mu.Lock()
	sim.trace = "#18" + string(data)
	sim.mu.Unlock()
	f.cfg.Binary = true
	tr, err := f.Trace()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{-81, -12.5}, tr); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if !srv.Contains("FORM REAL,32") {
		t.Error("expected binary format to be selected")
	}
}

func TestScreenshot(t *testing.T) {
	f, _, srv := connected(t)
	var buf bytes.Buffer
	if err := f.Screenshot(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "PNG!" {
		t.Errorf("expected the transferred block, got %q", buf.String())
	}
	if !srv.Contains("HCOP:DEV:LANG PNG") || !srv.Contains("HCOP:IMM") {
		t.Errorf("expected a hardcopy, got %v", srv.Received())
	}
}

func TestSetContinuousSweep(t *testing.T) {
	f, _, srv := connected(t)
	if err := f.SetContinuousSweep(true); err != nil {
		t.Fatal(err)
	}
	if !srv.Contains("INIT:CONT ON") {
		t.Error("expected INIT:CONT ON")
	}
}

func TestClose(t *testing.T) {
	f, _, _ := connected(t)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Sweep(); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestMeasureTimeoutSkipsTrace(t *testing.T) {
	f, sim, srv := connected(t)
	sim.mu.Lock()
	sim.esr = "0"
	sim.mu.Unlock()
	f.cfg.OPCTimeout = 0.1
	if _, _, err := f.Measure("horn_0_0"); errors.Cause(err) != scpi.ErrTimeout {
		t.Errorf("expected ErrTimeout got %v", err)
	}
	for _, cmd := range srv.Received() {
		if strings.HasPrefix(cmd, "TRAC?") {
			t.Errorf("expected no trace transfer after a timed out sweep, got %s", cmd)
		}
	}
	if matches, _ := filepath.Glob(filepath.Join(f.Recorder().Root, "*")); len(matches) != 0 {
		t.Errorf("expected no files written, got %v", matches)
	}
}

func TestMeasureRejectsPathsBeforeSweeping(t *testing.T) {
	f, _, srv := connected(t)
	before := len(srv.Received())
	_, _, err := f.Measure("../horn_0_0")
	var bad *measurement.NameError
	if !errors.As(err, &bad) {
		t.Errorf("expected a NameError got %v", err)
	}
	if after := len(srv.Received()); after != before {
		t.Errorf("expected nothing sent, got %v", srv.Received()[before:])
	}
}
