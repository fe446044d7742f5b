package util_test

import (
	"testing"
	"time"

	"github.com/rfchamber/fswlab/util"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-1, 0},
		{5, 5},
		{20, 10},
	}
	for _, tc := range cases {
		if got := util.Clamp(tc.in, 0, 10); got != tc.want {
			t.Errorf("expected %v clamped to [0, 10] to be %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	if out := util.SecsToDuration(dur.Seconds()); out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
	if out := util.SecsToDuration(2.5); out != 2500*time.Millisecond {
		t.Errorf("expected 2.5s got %v", out)
	}
}
