package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a user-visible failure.  Callers dispatch on kinds via
// errors.Is with the exported sentinels instead of brittle string comparisons.
type Kind string

const (
	// NotFound indicates the entity is absent or not visible to the caller.
	NotFound Kind = "notFound"
	// Forbidden indicates the actor lacks ownership of the entity.
	Forbidden Kind = "forbidden"
	// InvalidState indicates the operation is not legal for the entity's
	// current status.
	InvalidState Kind = "invalidState"
	// InvalidTransition indicates a status change outside the legal
	// transition set.
	InvalidTransition Kind = "invalidTransition"
	// NoResourceAvailable indicates the allocator found no candidate GPU.
	NoResourceAvailable Kind = "noResourceAvailable"
	// ResourceUnavailable indicates an explicitly targeted GPU is missing,
	// busy or does not satisfy the requested constraints.
	ResourceUnavailable Kind = "resourceUnavailable"
	// ResourceBusy indicates a delete was attempted on an in-use GPU.
	ResourceBusy Kind = "resourceBusy"
	// AlreadySettled indicates a payment already exists for the task.
	AlreadySettled Kind = "alreadySettled"
	// AmountMismatch indicates the settlement amount differs from the task
	// cost.
	AmountMismatch Kind = "amountMismatch"
	// Internal indicates an unexpected fault.
	Internal Kind = "internal"
)

// Error is a structured, user-visible failure with a stable kind and message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Internal error preserving the underlying cause for
// errors.Unwrap chains.
func Wrap(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: Internal, Message: fmt.Sprintf(format, args...), cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by kind; a sentinel with an empty message matches
// any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound            = &Error{Kind: NotFound}
	ErrForbidden           = &Error{Kind: Forbidden}
	ErrInvalidState        = &Error{Kind: InvalidState}
	ErrInvalidTransition   = &Error{Kind: InvalidTransition}
	ErrNoResourceAvailable = &Error{Kind: NoResourceAvailable}
	ErrResourceUnavailable = &Error{Kind: ResourceUnavailable}
	ErrResourceBusy        = &Error{Kind: ResourceBusy}
	ErrAlreadySettled      = &Error{Kind: AlreadySettled}
	ErrAmountMismatch      = &Error{Kind: AmountMismatch}
	ErrInternal            = &Error{Kind: Internal}
)

// KindOf returns the kind carried by err, or Internal when err is not a
// fault error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}
