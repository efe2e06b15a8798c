package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Sanitization errors
	ErrCodeNoStatement      ErrorCode = "NO_STATEMENT_FOUND"
	ErrCodeTemplateDetected ErrorCode = "TEMPLATE_DETECTED"
	ErrCodeSyntaxError      ErrorCode = "SYNTAX_ERROR"

	// Pipeline errors
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrCodeCriticalFailure  ErrorCode = "CRITICAL_FAILURE"
	ErrCodeRunCancelled     ErrorCode = "RUN_CANCELLED"

	// Execution errors
	ErrCodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	ErrCodeEngineExhausted ErrorCode = "ENGINE_EXHAUSTED"
	ErrCodeSourceNotFound  ErrorCode = "DATASOURCE_NOT_FOUND"

	// Request errors
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeValidationError ErrorCode = "VALIDATION_ERROR"

	// Infrastructure errors
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Status  int // HTTP status code
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Status:  getHTTPStatus(code),
	}
}

// WrapError wraps an existing error with an error code and message
func WrapError(code ErrorCode, message string, err error) *AppError {
	return NewAppError(code, message, err)
}

// getHTTPStatus maps error codes to HTTP status codes
func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeSourceNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeValidationError, ErrCodeNoStatement,
		ErrCodeTemplateDetected, ErrCodeSyntaxError:
		return http.StatusBadRequest
	case ErrCodeRunCancelled:
		return http.StatusRequestTimeout
	case ErrCodeEngineExhausted:
		return http.StatusBadGateway
	case ErrCodeExecutionFailed, ErrCodeGenerationFailed, ErrCodeCriticalFailure,
		ErrCodeConnectionFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the error code carried by err, or ErrCodeInternalError
// when err is not an AppError
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// HasCode checks whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound || appErr.Code == ErrCodeSourceNotFound
	}
	return false
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeValidationError || appErr.Code == ErrCodeInvalidInput
	}
	return false
}
