// Package sarkerr defines the stable error taxonomy surfaced across SARK's
// core components and mapped to HTTP status codes at the API boundary.
// Errors are normal return values, never exceptions: every fallible
// function in this module returns (T, error) and wraps with fmt.Errorf's
// %w so callers can unwrap with errors.As/errors.Is.
package sarkerr

import (
	"errors"
	"fmt"
)

// Class is one of the stable, caller-facing error classes. The class name
// is what gets surfaced to an operator; it is never the raw underlying
// error message, which may contain paths or secrets.
type Class string

const (
	ClassUnauthenticated      Class = "unauthenticated"
	ClassForbiddenPolicy      Class = "forbidden_policy"
	ClassForbiddenBudget      Class = "forbidden_budget"
	ClassForbiddenTime        Class = "forbidden_time"
	ClassRateLimited          Class = "rate_limited"
	ClassNotFound             Class = "not_found"
	ClassConflict             Class = "conflict"
	ClassValidation           Class = "validation"
	ClassDownstreamUnavailable Class = "downstream_unavailable"
	ClassDownstreamError      Class = "downstream_error"
	ClassInternal             Class = "internal"
)

// Error is a structured, classified error carrying a human-readable reason
// safe for display to an operator or API caller, plus optional machine
// metadata (e.g. retry_after for rate limiting, period for budget denials).
type Error struct {
	Class  Class
	Reason string
	Meta   map[string]any
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// With attaches a metadata key/value (e.g. "retry_after", "period") and
// returns the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

func newErr(class Class, reason string, cause error) *Error {
	return &Error{Class: class, Reason: reason, cause: cause}
}

func Unauthenticated(reason string) *Error { return newErr(ClassUnauthenticated, reason, nil) }
func ForbiddenPolicy(reason string) *Error { return newErr(ClassForbiddenPolicy, reason, nil) }
func ForbiddenBudget(reason string) *Error { return newErr(ClassForbiddenBudget, reason, nil) }
func ForbiddenTime(reason string) *Error   { return newErr(ClassForbiddenTime, reason, nil) }
func RateLimited(reason string) *Error     { return newErr(ClassRateLimited, reason, nil) }
func NotFound(reason string) *Error        { return newErr(ClassNotFound, reason, nil) }
func Conflict(reason string) *Error        { return newErr(ClassConflict, reason, nil) }
func Validation(reason string) *Error      { return newErr(ClassValidation, reason, nil) }

func DownstreamUnavailable(reason string, cause error) *Error {
	return newErr(ClassDownstreamUnavailable, reason, cause)
}

func DownstreamError(reason string, cause error) *Error {
	return newErr(ClassDownstreamError, reason, cause)
}

// Internal wraps an unexpected error under a fixed class name. The caller
// supplies a stable class string (e.g. "cache_sweeper_panic"); the
// underlying err is kept for logs but is never what gets surfaced to an
// API response body.
func Internal(class string, err error) *Error {
	return newErr(ClassInternal, class, err)
}

// As reports whether err (or any error in its chain) is a *Error, returning
// it for inspection.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
