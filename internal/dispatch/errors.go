package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned by Breaker.Check while the cooldown window
// is active. The invoker treats it as a regular attempt failure.
type CircuitOpenError struct {
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open until %s", e.Until.Format(time.RFC3339))
}

// InvokeError reports one page that exhausted its retry budget. It aborts
// the whole batch.
type InvokeError struct {
	Page     int
	Attempts int
	Err      error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("page %d failed after %d attempts: %v", e.Page, e.Attempts, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// TimeoutError reports that the whole-batch deadline elapsed before every
// page completed.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("batch analysis timed out after %s", e.Limit)
}

// FailedError is the terminal error for an empty batch, zero results or an
// unexpected scheduling failure.
type FailedError struct {
	Reason string
	Err    error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %s: %v", e.Reason, e.Err)
	}
	return "analysis failed: " + e.Reason
}

func (e *FailedError) Unwrap() error { return e.Err }

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}
