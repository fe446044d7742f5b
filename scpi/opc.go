package scpi

import (
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// ErrTimeout is returned when the device does not report operation complete
// before the allotted time
var ErrTimeout = errors.New("operation complete timeout")

// esrOPC is bit 0 of the standard event status register
const esrOPC = 1

var errPending = errors.New("operation pending")

// QueryOPC sends *OPC?, which the device answers with 1 once all pending
// operations are finished.  The exchange timeout must outlast those operations.
func (s *SCPI) QueryOPC() (bool, error) {
	i, err := s.ReadInt("*OPC?")
	if err != nil {
		return false, err
	}
	return i == 1, nil
}

// WriteWithOPC sends cmds followed by *OPC and polls the event status register
// until the operation complete bit is set.  If that takes longer than timeout
// ErrTimeout is returned.  The status register is cleared first so a stale
// bit cannot end the wait early.
func (s *SCPI) WriteWithOPC(timeout time.Duration, cmds ...string) error {
	cmd := "*CLS;" + strings.Join(cmds, " ") + ";*OPC"
	if err := s.write(false, cmd); err != nil {
		return err
	}

	var commErr error
	op := func() error {
		// no handshaking here, its *CLS would clear the register being polled
		resp, err := s.Raw("*ESR?")
		if err != nil {
			commErr = err
			return nil
		}
		esr, err := strconv.Atoi(strings.TrimSpace(resp))
		if err != nil {
			commErr = err
			return nil
		}
		if esr&esrOPC == 0 {
			return errPending
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          1.5,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock})
	if commErr != nil {
		return errors.Wrap(commErr, "polling event status register")
	}
	if err != nil {
		return errors.Wrapf(ErrTimeout, "%s did not complete within %v", strings.Join(cmds, " "), timeout)
	}
	return nil
}
