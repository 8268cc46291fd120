package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeTransient    ErrCode = "TRANSIENT"
	ErrCodeRateLimited  ErrCode = "RATE_LIMITED"
	ErrCodeStoreWrite   ErrCode = "STORE_WRITE"
	ErrCodeScheduling   ErrCode = "SCHEDULING"
	ErrCodeInternal     ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest   ErrCode = "BAD_REQUEST"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates an error for an entity confirmed absent upstream
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates an error for invalid credentials
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewTransientError creates an error for a retryable network/5xx failure
func NewTransientError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTransient,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewStoreWriteError creates an error for a failed storage transaction
func NewStoreWriteError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeStoreWrite,
		Message: message,
		Err:     err,
	}
}

// NewSchedulingError creates an error for a failed job registration/removal
func NewSchedulingError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeScheduling,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAuth checks if the error is a credentials error
func IsAuth(err error) bool {
	return hasCode(err, ErrCodeUnauthorized)
}

// IsTransient checks if the error should be retried with backoff
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient) || hasCode(err, ErrCodeRateLimited)
}

// IsStoreWrite checks if the error came from a storage transaction
func IsStoreWrite(err error) bool {
	return hasCode(err, ErrCodeStoreWrite)
}
