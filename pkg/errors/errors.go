package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeInsufficientData indicates the site has no keyword data to cluster
	ErrorTypeInsufficientData ErrorType = "INSUFFICIENT_DATA"

	// ErrorTypePersistence indicates a write to the cluster or mapping store failed
	ErrorTypePersistence ErrorType = "PERSISTENCE"

	// ErrorTypeTransientFetch indicates a read from a dependent store failed and may succeed on retry
	ErrorTypeTransientFetch ErrorType = "TRANSIENT_FETCH"

	// ErrorTypeBudgetExceeded indicates a clustering run hit its comparison or time budget
	ErrorTypeBudgetExceeded ErrorType = "BUDGET_EXCEEDED"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientDataError creates an error for a site without keyword rows
func NewInsufficientDataError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInsufficientData,
		Message: message,
	}
}

// NewPersistenceError creates an error for a failed write
func NewPersistenceError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypePersistence,
		Message: message,
		Err:     err,
	}
}

// NewTransientFetchError creates an error for a retryable read failure
func NewTransientFetchError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeTransientFetch,
		Message: message,
		Err:     err,
	}
}

// NewBudgetExceededError creates an error for a run that exceeded its budget
func NewBudgetExceededError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeBudgetExceeded,
		Message: message,
	}
}

// IsType reports whether any AppError in err's chain has the given type
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Err
	}
	return false
}

// HTTPStatus maps an error to the status code handlers respond with
func HTTPStatus(err error) int {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeInsufficientData:
		return http.StatusUnprocessableEntity
	case ErrorTypeExternal, ErrorTypeTransientFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
