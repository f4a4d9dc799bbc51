package model

import "errors"

// Kind classifies a storage failure. The string value is the wire tag.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "notfound"
	KindSystem     Kind = "system"
)

// Fixed messages returned to callers.
const (
	MsgInvalidUserID        = "Invalid user id"
	MsgInvalidLogEntry      = "Invalid Log Entry"
	MsgStartAfterEnd        = "startDate is after endDate"
	MsgInvalidConfiguration = "Error with Configuration"
	MsgLogNotFound          = "Log not found"
	MsgConfigNotFound       = "Configuration not found"
)

// Error is the only error type returned by store adapters.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError reports caller-supplied data that violates a precondition.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NewNotFoundError reports an entity that does not exist for the user.
func NewNotFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// NewSystemError wraps a datastore failure, keeping its message.
func NewSystemError(err error) *Error {
	if err == nil {
		err = errors.New("unknown system error")
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return &Error{Kind: KindSystem, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err. Errors not produced by this package are system errors.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindSystem
}

// IsValidationError checks if an error is a validation error (including wrapped errors)
func IsValidationError(err error) bool { return err != nil && KindOf(err) == KindValidation }

// IsNotFoundError checks if an error is a not-found error (including wrapped errors)
func IsNotFoundError(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsSystemError checks if an error is a system error (including wrapped errors)
func IsSystemError(err error) bool { return err != nil && KindOf(err) == KindSystem }
