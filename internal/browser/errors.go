package browser

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrNoSession is returned by page operations when no browser is running.
var ErrNoSession = errors.New("no active browser session")

// InitializationError reports that no exec strategy produced a working browser.
type InitializationError struct {
	// Attempts holds one error per strategy tried, in order.
	Attempts error
}

func (e *InitializationError) Error() string {
	errs := multierr.Errors(e.Attempts)
	if len(errs) == 0 {
		return "browser initialization failed: no exec strategies configured"
	}
	return fmt.Sprintf("browser initialization failed after %d attempt(s): %v", len(errs), e.Attempts)
}

func (e *InitializationError) Unwrap() []error { return multierr.Errors(e.Attempts) }

// ProtocolError wraps a failure in one step of the login or cart protocol.
type ProtocolError struct {
	Step string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &ProtocolError{Step: step, Err: err}
}
