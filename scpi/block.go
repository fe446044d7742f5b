package scpi

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/comm"
)

// readBlock reads an IEEE 488.2 definite length arbitrary block,
// #<n><length, n digits><data>, and the terminator that follows it.
// #0 (indefinite length) blocks run to the terminator.
func readBlock(t *comm.Terminator) ([]byte, error) {
	b, err := t.ReadByte()
	if err != nil {
		return nil, err
	}
	if b != '#' {
		return nil, errors.Errorf("first byte in block was %q, expected #", b)
	}
	b, err = t.ReadByte()
	if err != nil {
		return nil, err
	}
	if b < '0' || b > '9' {
		return nil, errors.Errorf("block length digit count was %q, expected 0-9", b)
	}
	digits := int(b - '0')
	if digits == 0 {
		return t.ReadMessage()
	}
	lenBuf := make([]byte, digits)
	if _, err = io.ReadFull(t, lenBuf); err != nil {
		return nil, err
	}
	nbytes, err := strconv.Atoi(string(lenBuf))
	if err != nil {
		return nil, errors.Wrap(err, "parsing block length")
	}
	data := make([]byte, nbytes)
	if _, err = io.ReadFull(t, data); err != nil {
		return nil, errors.Wrapf(err, "reading %d byte block", nbytes)
	}
	// now we need to pop off the terminator
	if _, err = t.ReadMessage(); err != nil {
		return data, errors.Wrap(err, "reading block terminator")
	}
	return data, nil
}

// ReadBlock sends a query and returns the arbitrary block it answers with.
// Handshaking is not applied, the error query would trail the binary data.
func (s *SCPI) ReadBlock(cmds ...string) ([]byte, error) {
	var data []byte
	str := strings.Join(cmds, " ")
	err := s.exchange(func(t *comm.Terminator) error {
		_, err := io.WriteString(t, str)
		if err != nil {
			return err
		}
		data, err = readBlock(t)
		return err
	})
	return data, err
}

// ReadFloats sends a query and decodes the response as a list of floats.
// ASCII responses are comma separated; binary responses are definite length
// blocks of little endian float32 (FORMat REAL,32 with the default byte order).
// Handshaking is not applied.
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	var out []float64
	str := strings.Join(cmds, " ")
	err := s.exchange(func(t *comm.Terminator) error {
		_, err := io.WriteString(t, str)
		if err != nil {
			return err
		}
		first, err := t.Peek(1)
		if err != nil {
			return err
		}
		if first[0] == '#' {
			data, err := readBlock(t)
			if err != nil {
				return err
			}
			out, err = decodeReal32(data)
			return err
		}
		resp, err := t.ReadMessage()
		if err != nil {
			return err
		}
		out, err = ParseFloatList(string(resp))
		return err
	})
	return out, err
}

// ParseFloatList parses a comma separated list of numbers
func ParseFloatList(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []float64{}, nil
	}
	pieces := strings.Split(s, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d of float list", i)
		}
		out[i] = f
	}
	return out, nil
}

func decodeReal32(data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("REAL,32 block of %d bytes is not a multiple of 4", len(data))
	}
	out := make([]float64, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[4*i:])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out, nil
}
