// Package mathx provides small numeric helpers for angle grids
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	// decimal units divide by their exact reciprocal, so 0.3 comes out as 0.3
	if inv := math.Round(1 / unit); math.Abs(inv-1/unit) < 1e-6 {
		return math.Round(x*inv) / inv
	}
	return math.Round(x/unit) * unit
}

// Arange returns start, start+step, ... up to but excluding stop, like numpy's
// arange.  Each value is rounded to 1e-9 so accumulated step error does not
// leak into file names.  A step of the wrong sign or zero yields nil.
func Arange(start, stop, step float64) []float64 {
	if step == 0 || (stop-start)/step <= 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = Round(start+float64(i)*step, 1e-9)
	}
	return out
}
