package risk

import (
	"errors"
	"fmt"
)

// ErrUpstream is the sentinel wrapped by every UpstreamError.
var ErrUpstream = errors.New("risk: upstream provider failed")

// UpstreamError describes a failed call to a configured provider.
// Status is the upstream HTTP status, or 0 for transport failures and timeouts.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream error (%d): %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Provider, msg)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstream, e.Err}
	}
	return []error{ErrUpstream}
}
