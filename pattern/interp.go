package pattern

import "gonum.org/v1/gonum/mat"

// Interpolate upsamples m by inserting the mean of each pair of adjacent
// columns, then of each pair of adjacent rows.  An RxC matrix becomes
// (2R-1)x(2C-1) and the input values sit unchanged at even indices.
func Interpolate(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	wide := mat.NewDense(r, 2*c-1, nil)
	for i := 0; i < r; i++ {
		wide.Set(i, 0, m.At(i, 0))
		for j := 0; j < c-1; j++ {
			a, b := m.At(i, j), m.At(i, j+1)
			wide.Set(i, 2*j+1, (a+b)/2)
			wide.Set(i, 2*j+2, b)
		}
	}

	_, wc := wide.Dims()
	out := mat.NewDense(2*r-1, wc, nil)
	out.SetRow(0, wide.RawRowView(0))
	for i := 0; i < r-1; i++ {
		for j := 0; j < wc; j++ {
			out.Set(2*i+1, j, (wide.At(i, j)+wide.At(i+1, j))/2)
		}
		out.SetRow(2*i+2, wide.RawRowView(i+1))
	}
	return out
}

// InterpolateN applies Interpolate k times.  k <= 0 returns a copy.
func InterpolateN(m mat.Matrix, k int) *mat.Dense {
	out := mat.DenseCopyOf(m)
	for i := 0; i < k; i++ {
		out = Interpolate(out)
	}
	return out
}
