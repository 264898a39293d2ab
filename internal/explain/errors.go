package explain

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before any work happens. Handlers map
// it to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrBudgetExceeded means the caller's daily token budget is spent.
// Handlers map it to 429.
var ErrBudgetExceeded = errors.New("daily token budget exceeded")

// BackendError wraps a failure of the generative backend, the only fatal
// step of the pipeline. Handlers map it to 502.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
