package comm_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rfchamber/fswlab/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func echoPool(t *testing.T, size int, timeout time.Duration) *comm.Pool {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	return comm.NewPool(size, timeout, maker)
}

func TestPoolFillsToCapacity(t *testing.T) {
	pool := echoPool(t, 3, time.Second)
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		if err != nil {
			t.Fatalf("could not get connection %d: %v", i+1, err)
		}
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 connections on lease, got %d", pool.Active())
	}
}

func TestPoolReleasesForReuse(t *testing.T) {
	pool := echoPool(t, 3, time.Second)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatalf("could not get connection %d: %v", i+1, err)
		}
		pool.Put(conn)
	}
	if pool.Size() != 1 {
		t.Errorf("expected a single connection to be reused, pool holds %d", pool.Size())
	}
}

func TestPoolReclaimsAfterTimeout(t *testing.T) {
	pool := echoPool(t, 3, 10*time.Millisecond)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle pool to be reclaimed, holds %d", pool.Size())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	pool := echoPool(t, 2, time.Second)
	for i := 0; i < 2; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatal(err)
		}
	}
	newConn := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReturnWithErrorDestroys(t *testing.T) {
	pool := echoPool(t, 1, time.Second)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected errored connection to be destroyed, pool holds %d", pool.Size())
	}
}

func TestClosedPoolRefusesGet(t *testing.T) {
	pool := echoPool(t, 1, time.Second)
	pool.Close()
	if _, err := pool.Get(); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected from a closed pool, got %v", err)
	}
}

func TestTerminatorRoundTrip(t *testing.T) {
	pool := echoPool(t, 1, time.Second)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Put(conn)
	wrap, err := comm.NewTimeout(conn, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	term := comm.NewTerminator(wrap, '\n', '\n')
	if _, err = term.Write([]byte("*IDN?")); err != nil {
		t.Fatal(err)
	}
	msg, err := term.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "*IDN?" {
		t.Errorf("expected *IDN? got %q", msg)
	}
}

func TestTerminatorStripsCarriageReturn(t *testing.T) {
	buf := bytes.NewBufferString("1.5\r\n")
	term := comm.NewTerminator(buf, '\n', '\n')
	msg, err := term.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "1.5" {
		t.Errorf("expected 1.5 got %q", msg)
	}
}

func TestTerminatorMissing(t *testing.T) {
	term := comm.NewTerminator(bytes.NewBufferString("abc"), '\n', '\n')
	_, err := term.ReadMessage()
	if err != comm.ErrTerminatorNotFound {
		t.Errorf("expected ErrTerminatorNotFound got %v", err)
	}
}

func TestTimeoutPassesThroughWithoutDeadlines(t *testing.T) {
	buf := &bytes.Buffer{}
	wrap, err := comm.NewTimeout(buf, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = wrap.Write([]byte("ok")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "ok" {
		t.Errorf("expected ok got %q", buf.String())
	}
}

func TestBackingOffMakerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	start := time.Now()
	_, err = comm.BackingOffTCPConnMaker(addr, time.Second)()
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("refused connection should not be retried until the backoff expires")
	}
}
