// Package scpi speaks IEEE 488.2 / SCPI to instruments over any transport
// a comm.Pool can hold: ASCII commands, numeric queries, definite length
// binary blocks and operation-complete synchronization
package scpi

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rfchamber/fswlab/comm"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single command/response exchange
	DefaultTimeout = 5 * time.Second

	errorQuery = "SYSTem:ERRor?"

	// errorQueueDepth bounds AllErrors so a broken link cannot spin forever
	errorQueueDepth = 100
)

// Error is an entry popped from the instrument's error queue, e.g.
// -113,"Undefined header"
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d,\"%s\"", e.Code, e.Message)
}

// parseError turns a SYSTem:ERRor? response into an error, nil for code 0
func parseError(resp string) error {
	resp = strings.TrimSpace(resp)
	pieces := strings.SplitN(resp, ",", 2)
	code, err := strconv.Atoi(strings.TrimPrefix(pieces[0], "+"))
	if err != nil {
		return errors.Errorf("malformed error queue response %q", resp)
	}
	if code == 0 {
		return nil
	}
	e := &Error{Code: code}
	if len(pieces) > 1 {
		e.Message = strings.Trim(pieces[1], "\"")
	}
	return e
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout bounds each exchange.  Zero means DefaultTimeout
	Timeout time.Duration

	// Limiter paces commands to the device when not nil
	Limiter *rate.Limiter
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// exchange leases a connection, frames it, and runs fn on it
func (s *SCPI) exchange(fn func(*comm.Terminator) error) (err error) {
	if s.Pool == nil {
		return comm.ErrNotConnected
	}
	if s.Limiter != nil {
		if err = s.Limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, s.timeout())
	if err != nil {
		return err
	}
	err = fn(comm.NewTerminator(wrap, '\n', '\n'))
	return err
}

func (s *SCPI) frame(handshake bool, cmds []string) string {
	if handshake {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:"+errorQuery)
	}
	return strings.Join(cmds, " ")
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	return s.write(s.Handshaking, cmds...)
}

func (s *SCPI) write(handshake bool, cmds ...string) error {
	str := s.frame(handshake, cmds)
	return s.exchange(func(t *comm.Terminator) error {
		_, err := io.WriteString(t, str)
		if err != nil {
			return err
		}
		if handshake {
			resp, err := t.ReadMessage()
			if err != nil {
				return err
			}
			return parseError(string(resp))
		}
		return nil
	})
}

// WriteRead sends cmds and returns the single line response, without the
// terminator.  Every query goes through here
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	handshake := s.Handshaking
	str := s.frame(handshake, cmds)
	err := s.exchange(func(t *comm.Terminator) error {
		_, err := io.WriteString(t, str)
		if err != nil {
			return err
		}
		resp, err = t.ReadMessage()
		return err
	})
	if err != nil {
		return resp, err
	}
	if handshake {
		idx := strings.LastIndexByte(string(resp), ';')
		if idx == -1 {
			return resp, errors.Errorf("handshake response %q carries no error status", resp)
		}
		if err := parseError(string(resp[idx+1:])); err != nil {
			return resp[:idx], err
		}
		resp = resp[:idx]
	}
	return resp, nil
}

// ReadString is WriteRead as a string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimSpace(string(resp)), err
}

// ReadFloat queries a single NR2/NR3 number
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadBool queries a boolean, which instruments answer as 1/0 or ON/OFF
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(resp) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(resp)
}

// ReadInt queries an integer.  Some firmware answers integer queries in NR3
// form (1.0001E+04), those are truncated
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(resp)
	if err != nil {
		f, ferr := strconv.ParseFloat(resp, 64)
		if ferr != nil {
			return 0, err
		}
		return int(f), nil
	}
	return i, nil
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		var resp []byte
		err := s.exchange(func(t *comm.Terminator) error {
			_, err := io.WriteString(t, str)
			if err != nil {
				return err
			}
			resp, err = t.ReadMessage()
			return err
		})
		return string(resp), err
	}
	return "", s.write(false, str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	var resp []byte
	err := s.exchange(func(t *comm.Terminator) error {
		_, err := io.WriteString(t, errorQuery)
		if err != nil {
			return err
		}
		resp, err = t.ReadMessage()
		return err
	})
	if err != nil {
		return err
	}
	return parseError(string(resp))
}

// AllErrors returns all errors from the device as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for i := 0; i < errorQueueDepth; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		if _, ok := err.(*Error); !ok {
			break // transport trouble, the queue cannot be read
		}
	}
	return errs
}

// AllErrorsString drains the queue like AllErrors and joins the messages
// with newlines.  The error is the first one drained, or nil when the queue
// was empty
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
