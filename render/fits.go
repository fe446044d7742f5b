package render

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/astrogo/fitsio"
	"github.com/rfchamber/fswlab/pattern"
	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.CRC32)

// checksum is the CRC-32 of the big endian encoding of data, the byte order
// FITS stores it in
func checksum(data []float64) uint32 {
	buf := make([]byte, 8)
	c := crcTable.InitCrc()
	for _, v := range data {
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
		c = crcTable.UpdateCrc(c, buf)
	}
	return crcTable.CRC32(c)
}

// linearAxis returns the start and step of the angles along one grid axis
func linearAxis(at func(int) float64, n int) (start, step float64) {
	start = at(0)
	if n > 1 {
		step = (at(n-1) - start) / float64(n-1)
	}
	return start, step
}

// WriteFITS streams the amplitude grid of p as a 64-bit float FITS image.
// NAXIS1 runs along azimuth and NAXIS2 along elevation; the angles are in
// the CRVALn/CDELTn cards.
func WriteFITS(w io.Writer, p *pattern.Pattern) error {
	g := newAngleGrid(p)
	nx, ny := g.Dims()
	data := make([]float64, 0, nx*ny)
	for r := 0; r < ny; r++ {
		for c := 0; c < nx; c++ {
			data = append(data, g.Z(c, r))
		}
	}
	az0, daz := linearAxis(g.X, nx)
	el0, del := linearAxis(g.Y, ny)
	cards := []fitsio.Card{
		{Name: "BUNIT", Value: "dB", Comment: "amplitude unit"},
		{Name: "CTYPE1", Value: "AZIMUTH"},
		{Name: "CUNIT1", Value: "deg"},
		{Name: "CRPIX1", Value: 1.0},
		{Name: "CRVAL1", Value: az0},
		{Name: "CDELT1", Value: daz},
		{Name: "CTYPE2", Value: "ELEVATN"},
		{Name: "CUNIT2", Value: "deg"},
		{Name: "CRPIX2", Value: 1.0},
		{Name: "CRVAL2", Value: el0},
		{Name: "CDELT2", Value: del},
		{Name: "PEAK", Value: p.Peak, Comment: "max amplitude before normalization"},
		{Name: "PROJMODE", Value: p.Mode.String()},
		{Name: "DATACRC", Value: int(checksum(data)), Comment: "CRC-32 of the data array"},
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	im := fitsio.NewImage(-64, []int{nx, ny})
	err = im.Header().Append(cards...)
	if err == nil {
		err = im.Write(data)
	}
	if err == nil {
		err = fits.Write(im)
	}
	if cerr := im.Close(); err == nil {
		err = cerr
	}
	if cerr := fits.Close(); err == nil {
		err = cerr
	}
	return err
}
