package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/pattern"
)

func writeDir(t *testing.T, dir string) {
	t.Helper()
	for _, el := range []float64{0, 15} {
		for _, az := range []float64{-15, 0, 15} {
			rec := measurement.Record{Trace: []float64{-30 - az/5 - el/3}}
			fid, err := os.Create(filepath.Join(dir, measurement.FileName("m", az, el)))
			if err != nil {
				t.Fatal(err)
			}
			if err := rec.Encode(fid); err != nil {
				t.Fatal(err)
			}
			fid.Close()
		}
	}
}

func ExampleJob_FileName() {
	j := NewJob("/data/horn/", KindSurface, "svg")
	fmt.Println(j.FileName())
	j.Kind = KindFITS
	fmt.Println(j.FileName())
	// Output:
	// horn_surface.svg
	// horn_fits.fits
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("Heatmap"); err != nil || k != KindHeatmap {
		t.Errorf("expected heatmap got %v, %v", k, err)
	}
	if _, err := ParseKind("polar"); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestJobRendersEveryKind(t *testing.T) {
	dir := t.TempDir()
	writeDir(t, dir)
	for _, kind := range Kinds {
		j := NewJob(dir, kind, "png")
		j.Width, j.Height = DefaultSize/2, DefaultSize/2
		var buf bytes.Buffer
		if err := j.Render(&buf); err != nil {
			t.Errorf("%s: %v", kind, err)
			continue
		}
		if buf.Len() == 0 {
			t.Errorf("%s: nothing written", kind)
		}
		if kind == KindFITS && !strings.HasPrefix(buf.String(), "SIMPLE") {
			t.Errorf("expected a FITS primary header, got %q", buf.String()[:10])
		}
	}
}

func TestJobErrors(t *testing.T) {
	j := NewJob(t.TempDir(), KindHeatmap, "png")
	err := j.Render(&bytes.Buffer{})
	if _, ok := errors.Cause(err).(*pattern.NoDataError); !ok {
		t.Errorf("expected a NoDataError got %v", err)
	}
}
