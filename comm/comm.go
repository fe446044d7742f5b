/*Package comm provides the connection plumbing shared by the instrument drivers.

Most usages of this package will boil down to:
	1.  pick a CreationFunc for the transport the instrument is attached by
		(BackingOffTCPConnMaker, SerialConnMaker, or one from package usbtmc)
	2.  wrap it in a Pool with NewPool.  Instruments that must be exclusively
		owned use a pool of size 1
	3.  for every exchange, Get a connection, wrap it with NewTimeout and
		NewTerminator, and hand it back with ReturnWithError

A minimal example for a device that responds to "RD?" with a number:

	maker := comm.BackingOffTCPConnMaker("192.168.0.61:5025", time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\n', '\n')
	_, err = wrap.Write([]byte("RD?"))
	...
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a nil connection is used
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr, retrying with
// an exponential backoff when the dial times out.  A refused connection is
// not retried; nobody is listening and waiting will not change that.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var (
			conn       net.Conn
			lastErr    error
			wasRefused bool
		)
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				lastErr = err
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					wasRefused = true
					return nil
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * timeout,
			Clock:               backoff.SystemClock})
		if wasRefused {
			return nil, lastErr
		}
		if err != nil {
			return nil, fmt.Errorf("connection timeout to %s: %v", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens a serial port.  Instruments
// attached through a GPIB-serial adapter use this.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// deadliner is satisfied by net.Conn and anything else that can time out
type deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout wraps a ReadWriter and pushes the deadline out before every
// Read and Write.  If the underlying ReadWriter cannot hold a deadline
// (serial ports, USB endpoints) it is a passthrough.
type Timeout struct {
	rw io.ReadWriter
	dl deadliner
	d  time.Duration
}

// NewTimeout wraps rw with a per-operation timeout of d
func NewTimeout(rw io.ReadWriter, d time.Duration) (*Timeout, error) {
	if rw == nil {
		return nil, ErrNotConnected
	}
	if d <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", d)
	}
	t := &Timeout{rw: rw, d: d}
	if dl, ok := rw.(deadliner); ok {
		t.dl = dl
	}
	return t, nil
}

func (t *Timeout) refresh() error {
	if t.dl == nil {
		return nil
	}
	return t.dl.SetDeadline(time.Now().Add(t.d))
}

// Read implements io.Reader
func (t *Timeout) Read(p []byte) (int, error) {
	if err := t.refresh(); err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}

// Write implements io.Writer
func (t *Timeout) Write(p []byte) (int, error) {
	if err := t.refresh(); err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}

// Terminator frames messages on a byte stream.  Writes have the Tx terminator
// appended, ReadMessage reads through the Rx terminator.  Reads are buffered,
// so a Terminator should be used for a whole exchange and then discarded.
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	tx byte
	rx byte
}

// NewTerminator creates a new Terminator around rw
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), tx: tx, rx: rx}
}

// Write sends p with the Tx terminator appended.  The returned count
// excludes the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, len(p), len(p)+1)
	copy(buf, p)
	if len(buf) == 0 || buf[len(buf)-1] != t.tx {
		buf = append(buf, t.tx)
	}
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read implements io.Reader over the buffered stream, without framing
func (t *Terminator) Read(p []byte) (int, error) {
	return t.br.Read(p)
}

// ReadByte implements io.ByteReader
func (t *Terminator) ReadByte() (byte, error) {
	return t.br.ReadByte()
}

// Peek returns the next n bytes without consuming them
func (t *Terminator) Peek(n int) ([]byte, error) {
	return t.br.Peek(n)
}

// ReadMessage reads through the next Rx terminator and returns the message
// with the terminator (and a preceding carriage return) stripped
func (t *Terminator) ReadMessage() ([]byte, error) {
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	buf = bytes.TrimSuffix(buf, []byte{t.rx})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}
