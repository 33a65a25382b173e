package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a feedlens error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"  // 404
	ErrBusy           ErrorCode = "BUSY"            // 409
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// LensError represents a structured error with code, status, and details.
type LensError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *LensError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LensError {
	return &LensError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing session, day bucket, or key.
func NewNotFound(identifier string) *LensError {
	return &LensError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file path.
func NewFileNotFound(path string) *LensError {
	return &LensError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewBusy creates a 409 error when a previous session is still finalizing.
func NewBusy(sessionID, state string) *LensError {
	return &LensError{
		Code:    ErrBusy,
		Status:  409,
		Message: fmt.Sprintf("session %s is still %s; try again once it closes", sessionID, state),
		Details: map[string]any{"session_id": sessionID, "state": state},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its context.
func NewCancelled(operation string) *LensError {
	return &LensError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *LensError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LensError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error (or anything it wraps) is a LensError with the given code.
func Is(err error, code ErrorCode) bool {
	var lErr *LensError
	if stderrors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}
