/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, and exposes a device as an io.ReadWriteCloser so it
can back a comm.Pool the same way a TCP socket does.

Only bulk transfers are implemented.  Messages are sent in a single transfer
with EOM set; responses larger than one transfer are stitched together by
issuing further REQUEST_DEV_DEP_MSG_IN until the device sets EOM.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read header and send it on the Out endpoint
2.  Read from the In endpoint
3.  Strip the 12 byte header; its transferSize says how much of the rest is data
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"
	"github.com/rfchamber/fswlab/comm"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerSize = 12

	// alignment is the transfer alignment required by the standard
	alignment = 4

	msgDevDepOut   = 0x01
	msgRequestIn   = 0x02
	eomBit         = 0x01
	termCharBit    = 0x02
	defaultMaxRecv = 64 * 1024

	// RohdeSchwarzVID is the USB vendor ID of Rohde & Schwarz
	RohdeSchwarzVID = 0x0aad
)

// BTagger can generate bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 0, min: 1}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerSize]byte {
	out := [headerSize]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, 1 <= x <= 255, incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, excludes header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = eomBit
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, the device is told to ignore the termination character
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgRequestIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = termCharBit
		out[9] = *terminator
	}
	return out
}

// decBulkInHeader validates a DEV_DEP_MSG_IN header against the tag that
// requested it and returns the transfer size and EOM flag
func decBulkInHeader(hdr []byte, tag byte) (size int, eom bool, err error) {
	if len(hdr) < headerSize {
		return 0, false, fmt.Errorf("only received %d bytes, need at least %d to form header", len(hdr), headerSize)
	}
	if hdr[0] != msgRequestIn {
		return 0, false, fmt.Errorf("unexpected MsgID %#x in bulk in header", hdr[0])
	}
	if hdr[1] != tag || hdr[2] != invbTag(tag) {
		return 0, false, fmt.Errorf("bTag mismatch, sent %d got %d", tag, hdr[1])
	}
	size = int(binary.LittleEndian.Uint32(hdr[4:8]))
	eom = hdr[8]&eomBit != 0
	return size, eom, nil
}

// pad extends b with zeros to the transfer alignment
func pad(b []byte) []byte {
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	return b
}

// endpoint pair, split out so the framing can be exercised without hardware
type bulk struct {
	in  io.Reader
	out io.Writer
}

// Device is a USBTMC instrument exposed as an io.ReadWriteCloser.  Each Write
// is one device-dependent message; Read returns response bytes, requesting
// more from the device as needed.
type Device struct {
	tagger  BTagger
	ep      bulk
	pending []byte
	maxRecv int
	closer  func() error
}

func newDevice(in io.Reader, out io.Writer, closer func() error) *Device {
	return &Device{
		tagger:  newBTagGen(),
		ep:      bulk{in: in, out: out},
		maxRecv: defaultMaxRecv,
		closer:  closer}
}

// Open opens the first device matching vid and pid and claims its default interface
func Open(vid, pid uint16) (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("no USB device with VID %#04x PID %#04x", vid, pid)
	}
	err = dev.SetAutoDetach(true)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	closer := func() error {
		done()
		err := dev.Close()
		ctx.Close()
		return err
	}
	in, err := iface.InEndpoint(2)
	if err != nil {
		closer()
		return nil, err
	}
	out, err := iface.OutEndpoint(2)
	if err != nil {
		closer()
		return nil, err
	}
	return newDevice(in, out, closer), nil
}

// ConnMaker returns a comm.CreationFunc that opens the device with vid and pid
func ConnMaker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return Open(vid, pid)
	}
}

// Write sends b as one device-dependent message
func (d *Device) Write(b []byte) (int, error) {
	hdr := encBulkOutHeader(d.tagger, len(b))
	buf := append(hdr[:], b...)
	buf = pad(buf)
	_, err := d.ep.out.Write(buf)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read fills p with response data, requesting a new transfer from the device
// when nothing is pending
func (d *Device) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		data, err := d.request()
		if err != nil {
			return 0, err
		}
		d.pending = data
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// request performs one REQUEST_DEV_DEP_MSG_IN / DEV_DEP_MSG_IN exchange
func (d *Device) request() ([]byte, error) {
	hdr := encBulkInHeader(d.tagger, d.maxRecv, nil)
	tag := hdr[1]
	n, err := d.ep.out.Write(hdr[:])
	if err != nil {
		return nil, err
	}
	if n != headerSize {
		return nil, fmt.Errorf("wrote %d bytes, not full %d required to transmit read request", n, headerSize)
	}
	buf := make([]byte, headerSize+d.maxRecv+alignment)
	n, err = d.ep.in.Read(buf)
	if err != nil {
		return nil, err
	}
	size, _, err := decBulkInHeader(buf[:n], tag)
	if err != nil {
		return nil, err
	}
	data := buf[headerSize:n]
	if size < len(data) {
		data = data[:size] // drop alignment padding
	}
	return data, nil
}

// Close closes the device
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
