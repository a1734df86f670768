package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrFetch      = errors.New("fetch error")
	ErrDecode     = errors.New("decode error")
	ErrInternal   = errors.New("internal error")
)

// ValidationError reports malformed or contradictory client input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// FetchError reports a remote image that could not be retrieved.
// StatusCode is 0 when no HTTP response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned status %d", ErrFetch, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", ErrFetch, e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

// DecodeError reports bytes that are not valid base64 or not a supported image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

func NewDecodeError(err error) error {
	return &DecodeError{Err: err}
}

// InternalError reports a failure inside the model capability.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInternal, e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}

func NewInternalError(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}
