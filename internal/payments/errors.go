package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ProcessorError is a failure reported by the processor's API. Transient
// failures (rate limits, 5xx) are retried by the outbox scheduler up to its
// attempt budget; everything else is surfaced as-is.
type ProcessorError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable reports whether the failure is worth another attempt.
// Network errors and server-side failures are transient; 4xx responses
// (bad destination, amount, key reuse with different params) are not.
func IsRetryable(err error) bool {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.StatusCode == 429 || pe.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
