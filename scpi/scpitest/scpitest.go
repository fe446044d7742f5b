// Package scpitest provides a loopback SCPI instrument for tests
package scpitest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rfchamber/fswlab/comm"
	"github.com/rfchamber/fswlab/scpi"
)

// HandlerFunc answers a single command.  cmd has its leading colon and
// surrounding whitespace removed.  The returned string is sent back only
// for queries (commands containing '?').
type HandlerFunc func(cmd string) string

// Server is a TCP listener that splits incoming lines on ';' and hands each
// command to a HandlerFunc.  Responses to the queries on one line are joined
// with ';' and terminated with '\n', the way instruments answer compound
// queries.
type Server struct {
	Addr string

	ln       net.Listener
	handler  HandlerFunc
	mu       sync.Mutex
	received []string
}

// NewServer starts a server on a loopback port; it is closed when the test ends
func NewServer(t testing.TB, h HandlerFunc) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	s := &Server{Addr: ln.Addr().String(), ln: ln, handler: h}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		var responses []string
		for _, cmd := range strings.Split(line, ";") {
			cmd = strings.TrimSpace(cmd)
			cmd = strings.TrimPrefix(cmd, ":")
			if cmd == "" {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, cmd)
			s.mu.Unlock()
			resp := s.handler(cmd)
			if strings.Contains(cmd, "?") {
				responses = append(responses, resp)
			}
		}
		if len(responses) > 0 {
			conn.Write([]byte(strings.Join(responses, ";") + "\n"))
		}
	}
}

// Received returns every command the server has seen, in order
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

// Contains reports whether cmd was received verbatim
func (s *Server) Contains(cmd string) bool {
	for _, c := range s.Received() {
		if c == cmd {
			return true
		}
	}
	return false
}

// Client returns a SCPI client connected to the server over a single pooled connection
func (s *Server) Client() *scpi.SCPI {
	maker := comm.BackingOffTCPConnMaker(s.Addr, time.Second)
	return &scpi.SCPI{Pool: comm.NewPool(1, time.Minute, maker), Timeout: time.Second}
}
