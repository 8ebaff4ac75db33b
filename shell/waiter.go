package shell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tapware/nfcshell/reader"
)

// Default wait budgets and poll cadence. All of them are adjustable
// through flags.
const (
	DefaultRunTimeout   = 15 * time.Second
	DefaultLoopTimeout  = 5 * time.Minute
	DefaultLoopDelay    = 2 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// TimeoutError reports that no card appeared within the wait budget.
// It is distinct from cancellation: a timeout means "report and return
// to the prompt", an interrupt means "stop the whole operation".
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no card detected within %s", e.Timeout)
}

// IsTimeoutError checks if an error is a card wait timeout.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// WaitForCard polls the transport until a card is present, the timeout
// elapses, or ctx is cancelled. The first poll happens immediately, so
// a card already on the reader never waits. The deadline is taken from
// the clock at entry and re-checked after every poll.
//
// Returns nil on presence, *TimeoutError on an exhausted budget, and
// ctx.Err() on cancellation.
func WaitForCard(ctx context.Context, transport reader.Transport, timeout, interval time.Duration, clock Clock) error {
	deadline := clock.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if transport.IsCardPresent() {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return &TimeoutError{Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}
