// Package errors defines the typed error kinds shared across the
// orchestrator core, so the HTTP layer and Delegation Tools can classify
// a failure without sniffing error message text.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds from the design.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInvalidArg     Kind = "invalid_argument"
	KindMux            Kind = "mux_error"
	KindProvider       Kind = "provider_error"
	KindTimeout        Kind = "timeout"
	KindUpstream       Kind = "upstream_error"
	KindInternal       Kind = "internal"
)

// Error is a typed orchestrator error carrying a Kind and an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrNotFound) match any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel values for errors.Is comparisons against a specific kind.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrInvalidArg = &Error{Kind: KindInvalidArg}
	ErrMux        = &Error{Kind: KindMux}
	ErrProvider   = &Error{Kind: KindProvider}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrInternal   = &Error{Kind: KindInternal}
)

// NotFound builds a NotFound error, e.g. for an unknown terminal or session id.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Conflict builds a Conflict error, e.g. for a duplicate session on create.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

// InvalidArgument builds an InvalidArgument error, e.g. for a bad enum or
// a non-existent cwd.
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArg, fmt.Sprintf(format, args...))
}

// Mux builds a MuxError wrapping a multiplexer subprocess failure.
func Mux(cause error, format string, args ...any) *Error {
	return Wrap(KindMux, fmt.Sprintf(format, args...), cause)
}

// Provider builds a ProviderError, e.g. for a profile load failure or init timeout.
func Provider(cause error, format string, args ...any) *Error {
	return Wrap(KindProvider, fmt.Sprintf(format, args...), cause)
}

// TimeoutErr builds a Timeout error for an exceeded polling budget.
func TimeoutErr(format string, args ...any) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

// Upstream builds an UpstreamError wrapping an HTTP failure from a backing
// agent server.
func Upstream(cause error, format string, args ...any) *Error {
	return Wrap(KindUpstream, fmt.Sprintf(format, args...), cause)
}

// Internal builds an Internal error for an unexpected condition.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, fmt.Sprintf(format, args...), cause)
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a *Error.
func KindOf(err error) Kind {
	var o *Error
	if errors.As(err, &o) {
		return o.Kind
	}
	return KindInternal
}
