// Package measurement provides the on-disk record of a single analyzer trace:
// a '#' commented header followed by one sample per line.
package measurement

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/mathx"
	"gonum.org/v1/gonum/floats"
)

const (
	// Ext is the extension of measurement files
	Ext = ".txt"

	// DateLayout is the layout of the Date header line
	DateLayout = "02.01.2006, 15:04:05"

	title       = "FSW Measurement"
	traceMarker = "Values of trace"

	keyName    = "File name"
	keyDate    = "Date"
	keyCenter  = "Frequency Center"
	keySpan    = "Frequency Span"
	keyPoints  = "Number Points"
	keyMarkerX = "Max Marker X"
	keyMarkerY = "Max Marker Y"
)

// ErrEmptyTrace is returned when a record holds no samples
var ErrEmptyTrace = errors.New("trace holds no samples")

// Header is the metadata written above the trace
type Header struct {
	// Name is the file name, without directory
	Name string `json:"name"`

	// Date is when the trace was taken
	Date time.Time `json:"date"`

	// Center is the center frequency in Hz
	Center float64 `json:"center"`

	// Span is the frequency span in Hz
	Span float64 `json:"span"`

	// Points is the number of sweep points
	Points int `json:"points"`

	// MarkerX is the frequency of the peak marker in Hz
	MarkerX float64 `json:"markerX"`

	// MarkerY is the level of the peak marker, typically dBm
	MarkerY float64 `json:"markerY"`
}

// Record is a trace and its header
type Record struct {
	Header

	// Trace holds the samples in sweep order
	Trace []float64 `json:"trace"`
}

// Peak returns the largest sample of the trace
func (r Record) Peak() (float64, error) {
	if len(r.Trace) == 0 {
		return 0, ErrEmptyTrace
	}
	return floats.Max(r.Trace), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Encode writes the record in the measurement file format
func (r Record) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	lines := []string{
		title,
		keyName + ": " + r.Name,
		keyDate + ": " + r.Date.Format(DateLayout),
		keyCenter + ": " + formatFloat(r.Center),
		keySpan + ": " + formatFloat(r.Span),
		keyPoints + ": " + strconv.Itoa(r.Points),
		keyMarkerX + ": " + formatFloat(r.MarkerX),
		keyMarkerY + ": " + formatFloat(r.MarkerY),
		traceMarker,
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(bw, "# %s\n", l); err != nil {
			return err
		}
	}
	for _, v := range r.Trace {
		if _, err := bw.WriteString(formatFloat(v) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// parseHeaderLine fills the field named by a "# key: value" comment.
// Unknown keys and unparsable values are ignored, comments are free text.
func (h *Header) parseHeaderLine(line string) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
	pieces := strings.SplitN(line, ":", 2)
	if len(pieces) != 2 {
		return
	}
	key, val := strings.TrimSpace(pieces[0]), strings.TrimSpace(pieces[1])
	switch key {
	case keyName:
		h.Name = val
	case keyDate:
		if t, err := time.ParseInLocation(DateLayout, val, time.Local); err == nil {
			h.Date = t
		}
	case keyCenter:
		h.Center, _ = strconv.ParseFloat(val, 64)
	case keySpan:
		h.Span, _ = strconv.ParseFloat(val, 64)
	case keyPoints:
		h.Points, _ = strconv.Atoi(val)
	case keyMarkerX:
		h.MarkerX, _ = strconv.ParseFloat(val, 64)
	case keyMarkerY:
		h.MarkerY, _ = strconv.ParseFloat(val, 64)
	}
}

// Decode reads a record.  Lines beginning with '#' are comments, header
// fields are recovered from them when present.  Blank lines are skipped,
// every other line must hold one number.
func Decode(r io.Reader) (Record, error) {
	var rec Record
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			rec.Header.parseHeaderLine(line)
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return rec, errors.Wrapf(err, "line %d", lineno)
		}
		rec.Trace = append(rec.Trace, f)
	}
	return rec, sc.Err()
}

// Load decodes the record stored at path
func Load(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()
	rec, err := Decode(f)
	if err != nil {
		return rec, errors.Wrapf(err, "decoding %s", path)
	}
	return rec, nil
}

func formatAngle(deg float64) string {
	return strconv.FormatFloat(mathx.Round(deg, 1e-6), 'f', -1, 64)
}

// FileName returns the name of the file holding the measurement taken at
// (azimuth, elevation), prefix_<azimuth>_<elevation>.txt
func FileName(prefix string, azimuth, elevation float64) string {
	return fmt.Sprintf("%s_%s_%s%s", prefix, formatAngle(azimuth), formatAngle(elevation), Ext)
}

// ParseAngles recovers azimuth and elevation from a file name of the form
// *_<azimuth>_<elevation>.txt
func ParseAngles(path string) (azimuth, elevation float64, err error) {
	base := strings.TrimSuffix(filepath.Base(path), Ext)
	pieces := strings.Split(base, "_")
	if len(pieces) < 2 {
		return 0, 0, errors.Errorf("file name %q does not end in _<azimuth>_<elevation>%s", path, Ext)
	}
	azimuth, err = strconv.ParseFloat(pieces[len(pieces)-2], 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "azimuth of %s", path)
	}
	elevation, err = strconv.ParseFloat(pieces[len(pieces)-1], 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "elevation of %s", path)
	}
	for _, a := range []float64{azimuth, elevation} {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return 0, 0, errors.Errorf("file name %q has a non-finite angle", path)
		}
	}
	return azimuth, elevation, nil
}
