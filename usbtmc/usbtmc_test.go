package usbtmc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestBTagSkipsZero(t *testing.T) {
	g := &bTagGen{value: 254, min: 1}
	if tag := g.nextbTag(); tag != 255 {
		t.Errorf("expected 255 got %d", tag)
	}
	if tag := g.nextbTag(); tag != 1 {
		t.Errorf("expected bTag to wrap to 1, got %d", tag)
	}
}

func TestBulkOutHeaderLayout(t *testing.T) {
	g := newBTagGen()
	hdr := encBulkOutHeader(g, 5)
	if hdr[0] != msgDevDepOut {
		t.Errorf("expected MsgID %d got %d", msgDevDepOut, hdr[0])
	}
	if hdr[1] != 1 || hdr[2] != 0xfe {
		t.Errorf("expected bTag 1 / inverse 0xfe, got %d / %#x", hdr[1], hdr[2])
	}
	if size := binary.LittleEndian.Uint32(hdr[4:8]); size != 5 {
		t.Errorf("expected transfer size 5 got %d", size)
	}
	if hdr[8] != eomBit {
		t.Errorf("expected EOM set")
	}
}

func TestBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	hdr := encBulkInHeader(newBTagGen(), 128, &term)
	if hdr[8] != termCharBit || hdr[9] != '\n' {
		t.Errorf("expected terminator enabled with \\n, got %#x %#x", hdr[8], hdr[9])
	}
}

func TestPadAligns(t *testing.T) {
	for n := 0; n < 9; n++ {
		if l := len(pad(make([]byte, n))); l%alignment != 0 {
			t.Errorf("length %d padded to %d, not a multiple of %d", n, l, alignment)
		}
	}
}

// loopback answers every read request with reply, framed as DEV_DEP_MSG_IN
type loopback struct {
	written bytes.Buffer
	reply   []byte
	lastTag byte
}

func (l *loopback) Write(p []byte) (int, error) {
	if p[0] == msgRequestIn {
		l.lastTag = p[1]
	}
	return l.written.Write(p)
}

func (l *loopback) Read(p []byte) (int, error) {
	hdr := make([]byte, headerSize)
	hdr[0] = msgRequestIn
	hdr[1] = l.lastTag
	hdr[2] = invbTag(l.lastTag)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(l.reply)))
	hdr[8] = eomBit
	msg := pad(append(hdr, l.reply...))
	return copy(p, msg), nil
}

func TestDeviceWriteRead(t *testing.T) {
	lb := &loopback{reply: []byte("Rohde&Schwarz,FSW-26,1312.8000K26/101234,4.80\n")}
	dev := newDevice(lb, lb, nil)
	if _, err := dev.Write([]byte("*IDN?\n")); err != nil {
		t.Fatal(err)
	}
	if lb.written.Len()%alignment != 0 {
		t.Errorf("message was not aligned, %d bytes", lb.written.Len())
	}
	got, err := io.ReadAll(io.LimitReader(dev, int64(len(lb.reply))))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, lb.reply) {
		t.Errorf("expected %q got %q", lb.reply, got)
	}
}

func TestDecodeRejectsWrongTag(t *testing.T) {
	hdr := make([]byte, headerSize)
	hdr[0] = msgRequestIn
	hdr[1] = 3
	hdr[2] = invbTag(3)
	if _, _, err := decBulkInHeader(hdr, 4); err == nil {
		t.Error("expected a bTag mismatch error")
	}
}
