package scpi_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/scpi"
	"github.com/rfchamber/fswlab/scpi/scpitest"
)

func ExampleParseFloatList() {
	fmt.Println(scpi.ParseFloatList("-12.5, -80.25,3E+00"))
	// Output: [-12.5 -80.25 3] <nil>
}

func TestReadFloat(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "FREQ:CENT?" {
			return "3.000000000E+09"
		}
		return ""
	})
	s := srv.Client()
	f, err := s.ReadFloat("FREQ:CENT?")
	if err != nil {
		t.Fatal(err)
	}
	if f != 3e9 {
		t.Errorf("expected 3e9 got %v", f)
	}
}

func TestReadIntAcceptsNR3(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string { return "1.0001E+04" })
	i, err := srv.Client().ReadInt("SWE:POIN?")
	if err != nil {
		t.Fatal(err)
	}
	if i != 10001 {
		t.Errorf("expected 10001 got %d", i)
	}
}

func TestWriteHandshakeOK(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "SYSTem:ERRor?" {
			return `0,"No error"`
		}
		return ""
	})
	s := srv.Client()
	s.Handshaking = true
	if err := s.Write("FREQ:SPAN 200 MHz"); err != nil {
		t.Fatal(err)
	}
	want := []string{"*CLS", "FREQ:SPAN 200 MHz", "SYSTem:ERRor?"}
	if diff := cmp.Diff(want, srv.Received()); diff != "" {
		t.Errorf("commands sent mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteHandshakeError(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "SYSTem:ERRor?" {
			return `-113,"Undefined header"`
		}
		return ""
	})
	s := srv.Client()
	s.Handshaking = true
	err := s.Write("BOGUS 1")
	serr, ok := errors.Cause(err).(*scpi.Error)
	if !ok {
		t.Fatalf("expected a *scpi.Error, got %v", err)
	}
	if serr.Code != -113 || serr.Message != "Undefined header" {
		t.Errorf("expected -113 Undefined header, got %d %q", serr.Code, serr.Message)
	}
}

func TestReadStringHandshakeStripsStatus(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string {
		switch cmd {
		case "*IDN?":
			return "Rohde&Schwarz,FSW-26,1312.8000K26/101234,4.80"
		case "SYSTem:ERRor?":
			return `0,"No error"`
		}
		return ""
	})
	s := srv.Client()
	s.Handshaking = true
	idn, err := s.ReadString("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if idn != "Rohde&Schwarz,FSW-26,1312.8000K26/101234,4.80" {
		t.Errorf("unexpected identity %q", idn)
	}
}

func TestReadFloatsASCII(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "TRAC? TRACE1" {
			return "-80.5,-79.25,-12"
		}
		return ""
	})
	got, err := srv.Client().ReadFloats("FORM ASC;:TRAC? TRACE1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{-80.5, -79.25, -12}, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func real32Block(vals []float32) string {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	n := fmt.Sprint(len(data))
	return fmt.Sprintf("#%d%s%s", len(n), n, data)
}

func TestReadFloatsBinary(t *testing.T) {
	vals := []float32{-80.5, 10, -12.25}
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "TRAC? TRACE1" {
			return real32Block(vals)
		}
		return ""
	})
	got, err := srv.Client().ReadFloats("FORM REAL,32;:TRAC? TRACE1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{-80.5, 10, -12.25}, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBlock(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string { return "#15PNG\n\x00" })
	got, err := srv.Client().ReadBlock("MMEM:DATA? 'c:\\temp\\shot.png'")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "PNG\n\x00" {
		t.Errorf("expected block with embedded newline, got %q", got)
	}
}

func TestWriteWithOPCCompletes(t *testing.T) {
	var polls int32
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "*ESR?" {
			if atomic.AddInt32(&polls, 1) < 3 {
				return "0"
			}
			return "1"
		}
		return ""
	})
	if err := srv.Client().WriteWithOPC(2*time.Second, "INIT"); err != nil {
		t.Fatal(err)
	}
	if !srv.Contains("INIT") || !srv.Contains("*OPC") || !srv.Contains("*CLS") {
		t.Errorf("expected *CLS;INIT;*OPC to be sent, got %v", srv.Received())
	}
	if atomic.LoadInt32(&polls) < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls)
	}
}

func TestWriteWithOPCTimesOut(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string {
		if cmd == "*ESR?" {
			return "0"
		}
		return ""
	})
	err := srv.Client().WriteWithOPC(100*time.Millisecond, "INIT")
	if errors.Cause(err) != scpi.ErrTimeout {
		t.Errorf("expected ErrTimeout got %v", err)
	}
}

func TestQueryOPC(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string { return "1" })
	ok, err := srv.Client().QueryOPC()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected operation complete")
	}
}

func TestAllErrors(t *testing.T) {
	queue := []string{`-222,"Data out of range"`, `-113,"Undefined header"`, `0,"No error"`}
	var idx int32
	srv := scpitest.NewServer(t, func(cmd string) string {
		i := atomic.AddInt32(&idx, 1) - 1
		if int(i) >= len(queue) {
			return `0,"No error"`
		}
		return queue[i]
	})
	str, err := srv.Client().AllErrorsString()
	if err == nil {
		t.Fatal("expected the first queued error")
	}
	want := "-222,\"Data out of range\"\n-113,\"Undefined header\""
	if str != want {
		t.Errorf("expected %q got %q", want, str)
	}
}

func TestRawCommandDoesNotWaitForReply(t *testing.T) {
	srv := scpitest.NewServer(t, func(cmd string) string { return "" })
	resp, err := srv.Client().Raw("INIT:CONT OFF")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "" {
		t.Errorf("expected blank response to a command, got %q", resp)
	}
}
