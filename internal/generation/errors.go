package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ValidationError marks malformed input. Validation failures are not
// retryable: running the same input again cannot succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// IsRetryable reports whether a failure is worth running again.
func IsRetryable(err error) bool {
	var vErr *ValidationError
	return !errors.As(err, &vErr)
}

// Classify maps a processing error onto a terminal status and a
// user-facing message. Timeouts are reported distinctly from errors, and
// cancellation is not counted as a failure.
func Classify(err error, timeout time.Duration) (Status, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout, fmt.Sprintf("Timed out after %d seconds", int(timeout.Seconds()))
	case errors.Is(err, context.Canceled):
		return StatusAborted, "Cancelled"
	default:
		return StatusError, err.Error()
	}
}
