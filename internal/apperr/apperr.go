// Package apperr defines the error taxonomy shared by the lifecycle managers
// and mapped to HTTP status codes by the API layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

func Validation(format string, args ...interface{}) error {
	return wrap(ErrValidation, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return wrap(ErrConflict, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return wrap(ErrForbidden, format, args...)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
