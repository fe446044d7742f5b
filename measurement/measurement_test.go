package measurement

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ExampleFileName() {
	fmt.Println(FileName("horn", -30, 12.5))
	// Output: horn_-30_12.5.txt
}

func sampleRecord() Record {
	return Record{
		Header: Header{
			Name:    "horn_10_20.txt",
			Date:    time.Date(2021, 3, 4, 5, 6, 7, 0, time.Local),
			Center:  3e9,
			Span:    200e6,
			Points:  3,
			MarkerX: 3.01e9,
			MarkerY: -12.5,
		},
		Trace: []float64{-80.25, -12.5, -79},
	}
}

func TestEncodeHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleRecord().Encode(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"# FSW Measurement",
		"# File name: horn_10_20.txt",
		"# Date: 04.03.2021, 05:06:07",
		"# Frequency Center: 3e+09",
		"# Frequency Span: 2e+08",
		"# Number Points: 3",
		"# Max Marker X: 3.01e+09",
		"# Max Marker Y: -12.5",
		"# Values of trace",
		"-80.25",
		"-12.5",
		"-79",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("file content mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRecoversHeader(t *testing.T) {
	var buf bytes.Buffer
	rec := sampleRecord()
	if err := rec.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSkipsCommentsAndBlanks(t *testing.T) {
	in := "# anything goes here\n\n1.5\n# another\n-2\n\n"
	got, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1.5, -2}, got.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("1\nabc\n"))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected the line number in %q", err)
	}
}

func TestPeak(t *testing.T) {
	p, err := sampleRecord().Peak()
	if err != nil {
		t.Fatal(err)
	}
	if p != -12.5 {
		t.Errorf("expected -12.5 got %v", p)
	}
	if _, err := (Record{}).Peak(); err != ErrEmptyTrace {
		t.Errorf("expected ErrEmptyTrace got %v", err)
	}
}

func TestParseAngles(t *testing.T) {
	az, el, err := ParseAngles(filepath.Join("data", "horn_feed_-45_7.5.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if az != -45 || el != 7.5 {
		t.Errorf("expected (-45, 7.5) got (%v, %v)", az, el)
	}
}

func TestParseAnglesInvertsFileName(t *testing.T) {
	for _, ang := range [][2]float64{{0, 0}, {-180, 90}, {12.25, -3.5}, {0.1, 0.2}} {
		az, el, err := ParseAngles(FileName("p", ang[0], ang[1]))
		if err != nil {
			t.Fatal(err)
		}
		if az != ang[0] || el != ang[1] {
			t.Errorf("expected %v got (%v, %v)", ang, az, el)
		}
	}
}

func TestParseAnglesErrors(t *testing.T) {
	for _, name := range []string{"single.txt", "x_az_10.txt", "x_10_el.txt", "horn_0_NaN.txt", "horn_Inf_0.txt", "horn_0_-inf.txt"} {
		if _, _, err := ParseAngles(name); err == nil {
			t.Errorf("expected an error for %s", name)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "x_1_2.txt")
	if err := os.WriteFile(fn, []byte("# FSW Measurement\n# Number Points: 2\n-1\n-2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rec, err := Load(fn)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Points != 2 || len(rec.Trace) != 2 {
		t.Errorf("expected 2 points, got header %d and %d samples", rec.Points, len(rec.Trace))
	}
}
