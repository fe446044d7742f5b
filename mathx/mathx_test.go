package mathx_test

import (
	"fmt"
	"testing"

	"github.com/rfchamber/fswlab/mathx"
)

func ExampleArange() {
	fmt.Println(mathx.Arange(-100, 100, 50))
	// Output: [-100 -50 0 50]
}

func ExampleRound() {
	fmt.Println(mathx.Round(2.4999999999, 1e-6))
	// Output: 2.5
}

func TestArangeFractionalStep(t *testing.T) {
	out := mathx.Arange(0, 1, 0.1)
	if len(out) != 10 {
		t.Fatalf("expected 10 values got %d", len(out))
	}
	if out[3] != 0.3 {
		t.Errorf("expected 0.3 at position 3, got %v", out[3])
	}
}

func TestArangeWrongDirection(t *testing.T) {
	if out := mathx.Arange(10, 0, 1); out != nil {
		t.Errorf("expected nil for a step pointing away from stop, got %v", out)
	}
}
