// Package apperror classifies failures returned by the ledger services so
// callers can tell a bad request from a state conflict or a missing record.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("state conflict")
	ErrForbidden  = errors.New("forbidden")
)

// Error carries a user-facing message and the kind it belongs to.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(ErrValidation, format, args...) }

func Conflict(format string, args ...any) error { return newf(ErrConflict, format, args...) }

func Forbidden(format string, args ...any) error { return newf(ErrForbidden, format, args...) }

// NotFound reports a missing record, e.g. NotFound("loan").
func NotFound(what string) error { return newf(ErrNotFound, "%s not found", what) }

// Kind returns the sentinel err belongs to, or nil for unexpected errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrForbidden} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Label is a short metric/log label for the kind of err.
func Label(err error) string {
	switch Kind(err) {
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrForbidden:
		return "forbidden"
	}
	return "internal"
}
