package pattern

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mode selects the radius used when projecting a grid
type Mode int

const (
	// Sphere projects every point onto the unit sphere, amplitude is shown by color only
	Sphere Mode = iota

	// Lobe uses the normalized amplitude as radius
	Lobe
)

func (m Mode) String() string {
	switch m {
	case Sphere:
		return "sphere"
	case Lobe:
		return "lobe"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "sphere" or "lobe" to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sphere", "":
		return Sphere, nil
	case "lobe":
		return Lobe, nil
	}
	return 0, fmt.Errorf("unknown mode %q, must be sphere or lobe", s)
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}

// ProjectPoint converts elevation and azimuth in degrees and radius r to x, y, z
func ProjectPoint(azimuth, elevation, r float64) (x, y, z float64) {
	th, ph := deg2rad(elevation), deg2rad(azimuth)
	x = r * math.Cos(th) * math.Cos(ph)
	y = r * math.Cos(th) * math.Sin(ph)
	z = r * math.Sin(th)
	return x, y, z
}

// Project converts parallel azimuth, elevation and radius matrices to cartesian
// coordinates.  In Sphere mode radius is ignored and may be nil.
func Project(azimuth, elevation, radius mat.Matrix, mode Mode) (x, y, z *mat.Dense) {
	r, c := azimuth.Dims()
	x = mat.NewDense(r, c, nil)
	y = mat.NewDense(r, c, nil)
	z = mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			rad := 1.
			if mode == Lobe {
				rad = radius.At(i, j)
			}
			xx, yy, zz := ProjectPoint(azimuth.At(i, j), elevation.At(i, j), rad)
			x.Set(i, j, xx)
			y.Set(i, j, yy)
			z.Set(i, j, zz)
		}
	}
	return x, y, z
}
