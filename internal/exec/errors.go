package exec

import (
	"errors"
	"fmt"
)

var ErrSandboxUnavailable = errors.New("exec: sandbox unavailable")

// RemoteError is a failure reported by the executor, carrying its status and
// diagnostic text as received.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("exec: remote error (status %d): %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.Message == "sandbox_unavailable" {
		return ErrSandboxUnavailable
	}
	return nil
}
