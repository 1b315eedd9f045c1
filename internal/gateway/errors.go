package gateway

import "fmt"

// NetworkError reports a failed storefront request made outside the browser.
// Status is zero when no response was received.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
