// Package errors defines the error taxonomy shared across the engine:
// sentinel errors for each failure class plus an AppError wrapper that
// carries the HTTP status code surfaced to API callers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrCapacity         = errors.New("capacity exceeded")
	ErrDurability       = errors.New("durability failure")
	ErrNoLeader         = errors.New("no leader elected")
	ErrNotLeader        = errors.New("not the leader")
	ErrLeadershipLost   = errors.New("leadership lost mid-write")
	ErrCollectionExists = errors.New("collection already exists")
	ErrInternal         = errors.New("internal error")
)

// AppError wraps a sentinel error with a caller-facing message and the HTTP
// status code to propagate.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError from a sentinel, status code, and message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf creates an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Validation returns a 400 validation error.
func Validation(format string, args ...any) *AppError {
	return Newf(ErrValidation, http.StatusBadRequest, format, args...)
}

// NotFound returns a 404 lookup error.
func NotFound(format string, args ...any) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

// Conflict returns a 409 conflict error (duplicate id on create).
func Conflict(format string, args ...any) *AppError {
	return Newf(ErrConflict, http.StatusConflict, format, args...)
}

// Capacity returns a 422 semantic error (page-size ceiling, unsupported sort).
func Capacity(format string, args ...any) *AppError {
	return Newf(ErrCapacity, http.StatusUnprocessableEntity, format, args...)
}

// HTTPStatusCode maps an error to the status code returned to API callers.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrCollectionExists):
		return http.StatusConflict
	case errors.Is(err, ErrCapacity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoLeader), errors.Is(err, ErrNotLeader),
		errors.Is(err, ErrLeadershipLost):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err matches target, unwrapping as needed. Re-exported so
// callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
