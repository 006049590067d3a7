package faceswap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ValidationError is returned before any request is made when input is unusable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NetworkError means no response was received from the service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means the per-operation time budget elapsed before a response.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ServiceError represents a non-success answer from the face-swap service.
type ServiceError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *ServiceError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// NotReadyError is returned when a result is requested before the job completed.
type NotReadyError struct {
	JobID  string
	Status Status
}

func (e *NotReadyError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("result for job %s not ready", e.JobID)
	}
	return fmt.Sprintf("result for job %s not ready (status %s)", e.JobID, e.Status)
}

// IsNotReady reports whether err is or wraps a *NotReadyError.
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}

// IsTimeout reports whether err is a timeout of any kind.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransient reports whether a failed call is worth repeating later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var (
		ne *NetworkError
		se *ServiceError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case IsTimeout(err), IsNotReady(err), errors.As(err, &ne):
		return true
	case errors.As(err, &se):
		return se.IsRetryable()
	default:
		return false
	}
}

// classify turns a transport failure into a NetworkError or TimeoutError.
func classify(op string, budget time.Duration, err error) error {
	if IsTimeout(err) {
		return &TimeoutError{Op: op, Timeout: budget, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}
