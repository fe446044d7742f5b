// Package rohde provides an interface to Rohde & Schwarz FSW signal and
// spectrum analyzers over SCPI.
package rohde

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/comm"
	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/usbtmc"
	"github.com/rfchamber/fswlab/util"
	"github.com/tarm/serial"
)

// ErrNotConnected is returned by operations on a controller that has no session
var ErrNotConnected = comm.ErrNotConnected

// State is the lifecycle state of a controller
type State int

const (
	// Disconnected means there is no session with the instrument
	Disconnected State = iota

	// Idle is connected and ready for an operation
	Idle

	// Configuring means sweep parameters are being sent
	Configuring

	// Sweeping means a sweep has been triggered and not yet completed
	Sweeping

	// Reading means the trace or markers are being transferred
	Reading
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Sweeping:
		return "sweeping"
	case Reading:
		return "reading"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Identity is the parsed *IDN? response
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

func (i Identity) String() string {
	return strings.Join([]string{i.Manufacturer, i.Model, i.Serial, i.Firmware}, ",")
}

// ParseIdentity splits an *IDN? response into its four fields
func ParseIdentity(s string) (Identity, error) {
	pieces := strings.Split(strings.TrimSpace(s), ",")
	if len(pieces) != 4 {
		return Identity{}, errors.Errorf("identity %q does not have four fields", s)
	}
	for i := range pieces {
		pieces[i] = strings.TrimSpace(pieces[i])
	}
	return Identity{Manufacturer: pieces[0], Model: pieces[1], Serial: pieces[2], Firmware: pieces[3]}, nil
}

// SweepConfig holds the sweep parameters.  Frequencies are in Hz, the
// reference level in dBm.
type SweepConfig struct {
	RefLevel float64 `koanf:"RefLevel" yaml:"RefLevel" json:"refLevel" mapstructure:"refLevel"`
	Center   float64 `koanf:"Center" yaml:"Center" json:"center" mapstructure:"center"`
	Span     float64 `koanf:"Span" yaml:"Span" json:"span" mapstructure:"span"`
	RBW      float64 `koanf:"RBW" yaml:"RBW" json:"rbw" mapstructure:"rbw"`
	VBW      float64 `koanf:"VBW" yaml:"VBW" json:"vbw" mapstructure:"vbw"`
	Points   int     `koanf:"Points" yaml:"Points" json:"points" mapstructure:"points"`
}

// DefaultSweep is the chamber's usual sweep, a 200 MHz span about 3 GHz
func DefaultSweep() SweepConfig {
	return SweepConfig{
		RefLevel: 10,
		Center:   3e9,
		Span:     200e6,
		RBW:      100e3,
		VBW:      300e3,
		Points:   10001,
	}
}

// Validate checks the configuration is something an FSW will accept
func (c SweepConfig) Validate() error {
	switch {
	case c.Center <= 0:
		return errors.Errorf("center frequency %g must be positive", c.Center)
	case c.Span < 0:
		return errors.Errorf("span %g must not be negative", c.Span)
	case c.RBW <= 0 || c.VBW <= 0:
		return errors.Errorf("bandwidths (%g, %g) must be positive", c.RBW, c.VBW)
	case c.Points < 101:
		return errors.Errorf("%d sweep points, the minimum is 101", c.Points)
	}
	return nil
}

// Marker is the position of a marker
type Marker struct {
	// X is the frequency in Hz
	X float64 `json:"x"`

	// Y is the level, typically dBm
	Y float64 `json:"y"`
}

// Analyzer is the behavior shared by the hardware controller and its simulation
type Analyzer interface {
	Connect() error
	Close() error
	State() State
	Identity() Identity
	Configure(SweepConfig) error
	Parameters() (SweepConfig, error)
	Sweep() error
	Trace() ([]float64, error)
	MarkerMax() (Marker, error)
	Measure(name string) (measurement.Record, string, error)
	Screenshot(w io.Writer) error
	SetDisplayUpdate(on bool) error
	SetContinuousSweep(on bool) error
	Raw(cmd string) (string, error)
}

// Config holds everything needed to reach and drive an instrument.
// Durations are in seconds.
type Config struct {
	// Transport is one of tcp, serial or usb
	Transport string `koanf:"Transport" yaml:"Transport"`

	// Addr is host:port for tcp, or the device path for serial
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Baud is the serial baud rate
	Baud int `koanf:"Baud" yaml:"Baud"`

	// ProductID is the USB product ID, the vendor is always Rohde & Schwarz
	ProductID uint16 `koanf:"ProductID" yaml:"ProductID"`

	// Timeout bounds a single command/response exchange
	Timeout float64 `koanf:"Timeout" yaml:"Timeout"`

	// OPCTimeout bounds operations synchronized with *OPC, such as a sweep
	OPCTimeout float64 `koanf:"OPCTimeout" yaml:"OPCTimeout"`

	// Handshaking checks the error queue after every command
	Handshaking bool `koanf:"Handshaking" yaml:"Handshaking"`

	// Binary fetches traces as REAL,32 blocks instead of ASCII
	Binary bool `koanf:"Binary" yaml:"Binary"`

	// DisplayUpdate keeps the instrument screen live while remote controlled
	DisplayUpdate bool `koanf:"DisplayUpdate" yaml:"DisplayUpdate"`

	// RateLimit caps commands per second, zero is unlimited
	RateLimit float64 `koanf:"RateLimit" yaml:"RateLimit"`

	// DataDir is where measurement files are written
	DataDir string `koanf:"DataDir" yaml:"DataDir"`

	// Sweep is applied on Connect when ConfigureOnConnect is set
	Sweep SweepConfig `koanf:"Sweep" yaml:"Sweep"`

	// ConfigureOnConnect sends Sweep right after connecting
	ConfigureOnConnect bool `koanf:"ConfigureOnConnect" yaml:"ConfigureOnConnect"`
}

// DefaultConfig returns a configuration for an FSW on its standard raw socket port
func DefaultConfig() Config {
	return Config{
		Transport:     "tcp",
		Addr:          "192.168.0.2:5025",
		Baud:          9600,
		ProductID:     0x0156,
		Timeout:       10,
		OPCTimeout:    10,
		DisplayUpdate: true,
		DataDir:       ".",
		Sweep:         DefaultSweep(),
	}
}

func (c Config) timeout() time.Duration {
	return util.SecsToDuration(c.Timeout)
}

func (c Config) opcTimeout() time.Duration {
	return util.SecsToDuration(c.OPCTimeout)
}

// maker returns the connection factory for the configured transport
func (c Config) maker() (comm.CreationFunc, error) {
	switch strings.ToLower(c.Transport) {
	case "", "tcp":
		addr := c.Addr
		if !strings.Contains(addr, ":") {
			addr += ":5025"
		}
		return comm.BackingOffTCPConnMaker(addr, c.timeout()), nil
	case "serial":
		return comm.SerialConnMaker(&serial.Config{Name: c.Addr, Baud: c.Baud, ReadTimeout: c.timeout()}), nil
	case "usb", "usbtmc":
		return usbtmc.ConnMaker(usbtmc.RohdeSchwarzVID, c.ProductID), nil
	}
	return nil, errors.Errorf("unknown transport %q, must be tcp, serial, or usb", c.Transport)
}
