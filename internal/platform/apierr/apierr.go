// Package apierr provides the coded error taxonomy shared by every actor,
// aggregate, and coordinator in the platform.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories a command can fail with.
type Kind string

const (
	// NotInitialized: command issued before initialize. Caller-visible, non-retryable.
	NotInitialized Kind = "NOT_INITIALIZED"
	// InvalidStateTransition: state machine violated, e.g. approve an already-shipped transfer.
	InvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	// PreconditionViolation: business rule violated, e.g. same source/destination, empty transfer.
	PreconditionViolation Kind = "PRECONDITION_VIOLATION"
	// Conflict: e.g. already-registered device, idempotency key already used successfully.
	Conflict Kind = "CONFLICT"
	// TerminalExternal: external service rejected with a known terminal code.
	TerminalExternal Kind = "TERMINAL_EXTERNAL"
	// TransientExternal: retryable external failure.
	TransientExternal Kind = "TRANSIENT_EXTERNAL"
	// CircuitOpen: short-circuited at source, underlying call was never attempted.
	CircuitOpen Kind = "CIRCUIT_OPEN"
	// PersistenceFailure: event or state write failed; the actor must not emit side effects.
	PersistenceFailure Kind = "PERSISTENCE_FAILURE"
)

// Retryable reports whether callers may reasonably retry a command that
// failed with this kind without changing its input.
func (k Kind) Retryable() bool {
	switch k {
	case TransientExternal, CircuitOpen:
		return true
	default:
		return false
	}
}

// CodedError is a structured error carrying a taxonomy Kind, a stable short
// code, a human-readable message, optional key/value details, and an
// optionally wrapped cause.
type CodedError struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *CodedError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair and returns the error for chaining.
func (e *CodedError) WithDetail(key string, value interface{}) *CodedError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a CodedError with no wrapped cause.
func New(kind Kind, code, message string) *CodedError {
	return &CodedError{Kind: kind, Code: code, Message: message}
}

// Wrap creates a CodedError that wraps an existing error.
func Wrap(kind Kind, code, message string, err error) *CodedError {
	return &CodedError{Kind: kind, Code: code, Message: message, Err: err}
}

// Constructors for the taxonomy in spec §7.

func ErrNotInitialized(actorKey string) *CodedError {
	return New(NotInitialized, "NOT_INITIALIZED", "command issued before initialize").
		WithDetail("actor_key", actorKey)
}

func ErrInvalidStateTransition(actorKey, from, command string) *CodedError {
	return New(InvalidStateTransition, "INVALID_STATE_TRANSITION", "command not valid in current state").
		WithDetail("actor_key", actorKey).
		WithDetail("state", from).
		WithDetail("command", command)
}

func ErrPreconditionViolation(reason string) *CodedError {
	return New(PreconditionViolation, "PRECONDITION_VIOLATION", reason)
}

func ErrConflict(reason string) *CodedError {
	return New(Conflict, "CONFLICT", reason)
}

func ErrTerminalExternal(service, code string, err error) *CodedError {
	return Wrap(TerminalExternal, code, "external service rejected the request", err).
		WithDetail("service", service)
}

func ErrTransientExternal(service string, err error) *CodedError {
	return Wrap(TransientExternal, "TRANSIENT_EXTERNAL", "external call failed, retryable", err).
		WithDetail("service", service)
}

func ErrCircuitOpen(breaker string) *CodedError {
	return New(CircuitOpen, "CIRCUIT_OPEN", "circuit breaker is open, call short-circuited").
		WithDetail("breaker", breaker)
}

func ErrPersistenceFailure(operation string, err error) *CodedError {
	return Wrap(PersistenceFailure, "PERSISTENCE_FAILURE", "event or state write failed", err).
		WithDetail("operation", operation)
}

// Helper functions

// As extracts a *CodedError from an error chain.
func As(err error) (*CodedError, bool) {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a CodedError, or the
// empty Kind otherwise.
func KindOf(err error) Kind {
	if coded, ok := As(err); ok {
		return coded.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) a CodedError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
