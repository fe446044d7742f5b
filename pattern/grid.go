// Package pattern assembles per-angle amplitude measurements into regular
// angular grids, upsamples them and projects them into cartesian space for
// rendering radiation patterns.
package pattern

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Point is a single measurement, angles in degrees
type Point struct {
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
	Amplitude float64 `json:"amplitude"`
}

// Order is the lexicographic sort order of points.  The first key indexes
// grid rows, the second indexes columns.
type Order int

const (
	// ElevationMajor sorts by (elevation, azimuth); rows are elevations
	ElevationMajor Order = iota

	// AzimuthMajor sorts by (azimuth, elevation); rows are azimuths
	AzimuthMajor
)

func (o Order) String() string {
	switch o {
	case ElevationMajor:
		return "elevation"
	case AzimuthMajor:
		return "azimuth"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder converts "elevation" or "azimuth" to an Order
func ParseOrder(s string) (Order, error) {
	switch s {
	case "elevation", "el", "":
		return ElevationMajor, nil
	case "azimuth", "az":
		return AzimuthMajor, nil
	}
	return 0, fmt.Errorf("unknown order %q, must be elevation or azimuth", s)
}

// keys returns the (row, column) keys of p
func (o Order) keys(p Point) (float64, float64) {
	if o == AzimuthMajor {
		return p.Azimuth, p.Elevation
	}
	return p.Elevation, p.Azimuth
}

// ShapeError is returned when points do not form a full regular sweep
type ShapeError struct {
	Points int
	Rows   int
	Cols   int
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%d points do not form a regular %dx%d grid: %s", e.Points, e.Rows, e.Cols, e.Reason)
}

// NoDataError is returned when there is nothing to assemble
type NoDataError struct {
	Dir string
}

func (e *NoDataError) Error() string {
	if e.Dir == "" {
		return "no measurement points"
	}
	return fmt.Sprintf("no measurement files in %s", e.Dir)
}

// Grid holds parallel matrices addressed by (row, column)
type Grid struct {
	Order     Order
	Azimuth   *mat.Dense
	Elevation *mat.Dense
	Amplitude *mat.Dense
}

// Dims returns the number of rows and columns
func (g *Grid) Dims() (r, c int) {
	return g.Amplitude.Dims()
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// sortPoints sorts a copy of pts in the given order
func sortPoints(pts []Point, order Order) []Point {
	out := make([]Point, len(pts))
	copy(out, pts)
	sort.SliceStable(out, func(i, j int) bool {
		ai, bi := order.keys(out[i])
		aj, bj := order.keys(out[j])
		if ai != aj {
			return ai < aj
		}
		return bi < bj
	})
	return out
}

// Assemble sorts pts and reshapes them into a grid.  The column count is the
// number of points sharing the first row key; every row must then carry a
// single row key and the same strictly increasing column keys.
func Assemble(pts []Point, order Order) (*Grid, error) {
	n := len(pts)
	if n == 0 {
		return nil, &NoDataError{}
	}
	for _, p := range pts {
		if !finite(p.Azimuth) || !finite(p.Elevation) {
			return nil, &ShapeError{Points: n,
				Reason: fmt.Sprintf("non-finite angle at azimuth %v elevation %v", p.Azimuth, p.Elevation)}
		}
	}
	sorted := sortPoints(pts, order)
	first, _ := order.keys(sorted[0])
	cols := 0
	for _, p := range sorted {
		if k, _ := order.keys(p); k != first {
			break
		}
		cols++
	}
	rows := n / cols
	if n%cols != 0 {
		return nil, &ShapeError{Points: n, Rows: rows, Cols: cols,
			Reason: fmt.Sprintf("%d points is not a multiple of %d columns", n, cols)}
	}

	colKeys := make([]float64, cols)
	for j := 0; j < cols; j++ {
		_, colKeys[j] = order.keys(sorted[j])
		if j > 0 && colKeys[j] <= colKeys[j-1] {
			return nil, &ShapeError{Points: n, Rows: rows, Cols: cols,
				Reason: fmt.Sprintf("duplicate %s %v", order.column(), colKeys[j])}
		}
	}

	var prev float64
	for r := 0; r < rows; r++ {
		rowKey, _ := order.keys(sorted[r*cols])
		if r > 0 && rowKey == prev {
			return nil, &ShapeError{Points: n, Rows: rows, Cols: cols,
				Reason: fmt.Sprintf("%s %v spans more than one row", order, rowKey)}
		}
		prev = rowKey
		for j := 0; j < cols; j++ {
			k1, k2 := order.keys(sorted[r*cols+j])
			if k1 != rowKey {
				return nil, &ShapeError{Points: n, Rows: rows, Cols: cols,
					Reason: fmt.Sprintf("%s %v has %d points, want %d", order, rowKey, j, cols)}
			}
			if k2 != colKeys[j] {
				return nil, &ShapeError{Points: n, Rows: rows, Cols: cols,
					Reason: fmt.Sprintf("%s %v has %s %v where %v was expected", order, rowKey, order.column(), k2, colKeys[j])}
			}
		}
	}

	az := make([]float64, n)
	el := make([]float64, n)
	amp := make([]float64, n)
	for i, p := range sorted {
		az[i], el[i], amp[i] = p.Azimuth, p.Elevation, p.Amplitude
	}
	return &Grid{
		Order:     order,
		Azimuth:   mat.NewDense(rows, cols, az),
		Elevation: mat.NewDense(rows, cols, el),
		Amplitude: mat.NewDense(rows, cols, amp),
	}, nil
}

// column names the column key of the order
func (o Order) column() string {
	if o == AzimuthMajor {
		return ElevationMajor.String()
	}
	return AzimuthMajor.String()
}

// Flatten returns the grid points in row-major order
func (g *Grid) Flatten() []Point {
	r, c := g.Dims()
	out := make([]Point, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, Point{
				Azimuth:   g.Azimuth.At(i, j),
				Elevation: g.Elevation.At(i, j),
				Amplitude: g.Amplitude.At(i, j),
			})
		}
	}
	return out
}
