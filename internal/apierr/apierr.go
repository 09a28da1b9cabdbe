// Package apierr defines the error kinds request handlers recover into
// structured HTTP responses, and the worker-facing kinds (Transient,
// Fatal) that control retry behaviour in ingest and webhook workers.
package apierr

import (
	"errors"
	"fmt"
)

// BadRequestError signals malformed client input.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// BadRequest constructs a BadRequestError.
func BadRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// NotAuthorizedError signals a missing or unknown API key.
type NotAuthorizedError struct {
	Message string
}

func (e *NotAuthorizedError) Error() string { return e.Message }

// NotAuthorized constructs a NotAuthorizedError.
func NotAuthorized(message string) error {
	return &NotAuthorizedError{Message: message}
}

// RateLimitedError signals a quota bucket was exceeded for the current
// minute window.
type RateLimitedError struct {
	Bucket     string
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on bucket %q, retry after %ds", e.Bucket, e.RetryAfter)
}

// RateLimited constructs a RateLimitedError.
func RateLimited(bucket string, retryAfter int) error {
	return &RateLimitedError{Bucket: bucket, RetryAfter: retryAfter}
}

// UpstreamUnavailableError wraps an upstream HTTP 5xx or transport
// failure. It surfaces to clients as a generic 500.
type UpstreamUnavailableError struct {
	Message string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// UpstreamUnavailable constructs an UpstreamUnavailableError.
func UpstreamUnavailable(message string, err error) error {
	return &UpstreamUnavailableError{Message: message, Err: err}
}

// TransientError is retriable at the call site (DB reconnect, webhook
// POST retry) and should never propagate past a retry loop.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retriable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// FatalError is unrecoverable and should terminate the owning worker.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsTransient reports whether err (or something it wraps) is Transient.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err (or something it wraps) is Fatal.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
