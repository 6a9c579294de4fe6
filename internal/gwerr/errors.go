// Package gwerr defines the gateway's error taxonomy: a small set of
// sentinel kinds that every component returns instead of ad-hoc errors, so
// callers (the orchestrator, the meta-tool surface) can branch on the kind
// rather than parsing messages.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind is one of the stable, machine-facing error codes from the taxonomy.
type Kind string

const (
	NotFound           Kind = "NotFound"
	UnavailableBackend Kind = "UnavailableBackend"
	Timeout            Kind = "Timeout"
	TransportError     Kind = "TransportError"
	ScriptError        Kind = "ScriptError"
	ResourceLimit      Kind = "ResourceLimit"
	SchemaInvalid      Kind = "SchemaInvalid"
	CapacityEvicted    Kind = "CapacityEvicted"
	InvalidArgument    Kind = "InvalidArgument"
	Cancelled          Kind = "Cancelled"
)

// Error wraps an underlying cause with a stable Kind and a human message.
// The Kind is the sole machine-facing contract; Message is for humans and
// may change across versions.
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

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to "" if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
