// Package errors defines the sentinel errors shared across the server and
// their mapping to HTTP status codes. Most absent-value conditions in the
// search core are deliberate no-ops, not errors; the sentinels here cover
// the cases that do surface to callers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCorruptSnapshot is the one hard failure of the search core: a
	// serialized index blob is truncated or malformed. The load is fatal;
	// the persistence layer decides whether to rebuild from the registry.
	ErrCorruptSnapshot = errors.New("corrupt index snapshot")

	ErrPackageNotFound = errors.New("package not found")
	ErrPackageExists   = errors.New("package already exists")
	ErrReportNotFound  = errors.New("build report not found")
	ErrBlobNotFound    = errors.New("blob not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
)

// AppError attaches an HTTP status and human-readable message to a sentinel.
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

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error chain to the status the web layer should
// return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrPackageNotFound),
		errors.Is(err, ErrReportNotFound),
		errors.Is(err, ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPackageExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
