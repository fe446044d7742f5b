package rohde

import (
	"image"
	"image/png"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/measurement"
)

const (
	mockNoiseFloor = -90.
	mockPeak       = -10.
	mockFloor      = -70.
)

// Mock is a simulated analyzer.  The signal at the center frequency follows
// a cos(az)*cos(el) lobe of the position set with Point, so sweeping a grid
// of positions produces a plausible radiation pattern without hardware.
type Mock struct {
	rec *measurement.Recorder
	now func() time.Time

	mu        sync.Mutex
	state     State
	params    SweepConfig
	az, el    float64
	display   bool
	contSweep bool
}

// NewMock returns a disconnected simulated analyzer writing to dataDir
func NewMock(dataDir string) (*Mock, error) {
	rec, err := measurement.NewRecorder(dataDir)
	if err != nil {
		return nil, err
	}
	return &Mock{rec: rec, now: time.Now, params: DefaultSweep(), contSweep: true}, nil
}

// Recorder returns the recorder measurements are written with
func (m *Mock) Recorder() *measurement.Recorder {
	return m.rec
}

// Point sets the simulated antenna orientation in degrees
func (m *Mock) Point(azimuth, elevation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.az, m.el = azimuth, elevation
}

// Level returns the simulated peak level at an orientation
func Level(azimuth, elevation float64) float64 {
	g := math.Abs(math.Cos(deg2rad(azimuth)) * math.Cos(deg2rad(elevation)))
	return mockFloor + (mockPeak-mockFloor)*g
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}

func (m *Mock) ready() error {
	if m.state == Disconnected {
		return ErrNotConnected
	}
	return nil
}

// Connect marks the mock as connected
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Idle
	m.contSweep = false
	return nil
}

// Close marks the mock as disconnected
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Disconnected
	return nil
}

// State returns the lifecycle state
func (m *Mock) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns a fixed identity
func (m *Mock) Identity() Identity {
	return Identity{Manufacturer: "Rohde&Schwarz", Model: "FSW-26 (simulated)", Serial: "000000/000", Firmware: "0.0"}
}

// Configure stores c
func (m *Mock) Configure(c SweepConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.params = c
	return nil
}

// Parameters returns the stored configuration
func (m *Mock) Parameters() (SweepConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params, m.ready()
}

// Sweep is instantaneous
func (m *Mock) Sweep() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready()
}

// trace is a noise floor with a single carrier at the center frequency,
// its width set by the resolution bandwidth
func (m *Mock) trace() []float64 {
	n := m.params.Points
	out := make([]float64, n)
	level := Level(m.az, m.el)
	width := m.params.RBW
	if width <= 0 {
		width = 1
	}
	for i := range out {
		f := m.params.Center - m.params.Span/2
		if n > 1 {
			f += m.params.Span * float64(i) / float64(n-1)
		}
		d := (f - m.params.Center) / width
		// deterministic ripple stands in for noise
		noise := mockNoiseFloor + 1.5*math.Sin(float64(i)*0.7)
		sig := level - 3*d*d
		out[i] = math.Max(noise, sig)
	}
	return out
}

// Trace returns the simulated trace
func (m *Mock) Trace() ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.trace(), nil
}

func (m *Mock) markerMax() Marker {
	tr := m.trace()
	best := 0
	for i, v := range tr {
		if v > tr[best] {
			best = i
		}
	}
	x := m.params.Center
	if n := len(tr); n > 1 {
		x = m.params.Center - m.params.Span/2 + m.params.Span*float64(best)/float64(n-1)
	}
	return Marker{X: x, Y: tr[best]}
}

// MarkerMax returns the peak of the simulated trace
func (m *Mock) MarkerMax() (Marker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return Marker{}, err
	}
	return m.markerMax(), nil
}

// Measure writes a simulated measurement
func (m *Mock) Measure(name string) (measurement.Record, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return measurement.Record{}, "", err
	}
	rec := newRecord(m.now(), m.params, m.trace(), m.markerMax())
	fn, err := m.rec.Write(name, &rec)
	return rec, fn, err
}

// Screenshot writes a blank PNG the size of the FSW display
func (m *Mock) Screenshot(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	img := image.NewGray(image.Rect(0, 0, 1280, 800))
	for i := range img.Pix {
		img.Pix[i] = 32
	}
	return png.Encode(w, img)
}

// SetDisplayUpdate stores on
func (m *Mock) SetDisplayUpdate(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display = on
	return m.ready()
}

// SetContinuousSweep stores on
func (m *Mock) SetContinuousSweep(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contSweep = on
	return m.ready()
}

// Raw answers *IDN? and *OPC?, other queries are errors and commands are ignored
func (m *Mock) Raw(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return "", err
	}
	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case "*IDN?":
		return m.Identity().String(), nil
	case "*OPC?":
		return "1", nil
	}
	if strings.Contains(cmd, "?") {
		return "", errors.Errorf("simulated analyzer does not answer %q", cmd)
	}
	return "", nil
}

var _ Analyzer = (*Mock)(nil)
