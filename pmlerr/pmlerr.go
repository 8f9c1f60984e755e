// Package pmlerr defines the typed error taxonomy shared by every PML
// component. Callers classify failures by Kind rather than string matching.
package pmlerr

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Kind enumerates the closed set of error categories surfaced at every
// public boundary.
type Kind int

const (
	// Internal indicates a bug or I/O failure.
	Internal Kind = iota
	// InvalidArgument indicates a schema violation, bad reference string,
	// cycle in a workflow DAG, or unknown enum value.
	InvalidArgument
	// NotFound indicates an unknown tool id, capability id, or provider.
	NotFound
	// DimensionMismatch indicates an embedding dimension mismatch.
	DimensionMismatch
	// Timeout indicates a per-task, per-workflow, or embedding call timeout.
	Timeout
	// Cancelled indicates a user-initiated cancellation.
	Cancelled
	// UpstreamFailure indicates a gateway provider returned an error.
	UpstreamFailure
	// Overloaded indicates a gateway or executor backpressure rejection.
	Overloaded
	// NumericalInstability indicates NaN/Inf in SHGAT forward or training.
	NumericalInstability
)

// String renders the kind using its canonical taxonomy name.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case DimensionMismatch:
		return "DimensionMismatch"
	case Timeout:
		return "Timeout"
	case Cancelled:
		return "Cancelled"
	case UpstreamFailure:
		return "UpstreamFailure"
	case Overloaded:
		return "Overloaded"
	case NumericalInstability:
		return "NumericalInstability"
	default:
		return "Internal"
	}
}

// Error is the concrete error type carried across every PML boundary. It
// wraps an optional cause so errors.Is/errors.As compose normally.
type Error struct {
	Kind    Kind
	Message string
	TaskID  string
	Details map[string]any
	Cause   error
}

// New builds an Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithTaskID returns a copy of e annotated with a task id.
func (e *Error) WithTaskID(taskID string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.TaskID = taskID
	return &cp
}

// WithDetails returns a copy of e annotated with additional details.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = details
	return &cp
}

// Error implements the error interface. Messages are redacted so the
// caller's home directory never leaks verbatim.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := Redact(e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, supporting
// errors.Is(err, pmlerr.New(pmlerr.NotFound, "")) style checks against a
// sentinel built purely to carry a Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind of err, defaulting to Internal when err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Redact collapses the user's home directory to "~" and strips obvious
// bearer-token-shaped substrings so descriptive messages never leak
// secrets to a caller.
func Redact(msg string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		msg = strings.ReplaceAll(msg, home, "~")
	}
	return bearerToken.ReplaceAllString(msg, "Bearer [REDACTED]")
}

var bearerToken = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
