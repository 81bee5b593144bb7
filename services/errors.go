package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypePolicyDenial  ErrorType = "policy_denial"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrDefinitionNotFound = NewDomainError(ErrorTypeNotFound, "policy definition not found", nil)
	ErrAssignmentNotFound = NewDomainError(ErrorTypeNotFound, "policy assignment not found", nil)
	ErrDecisionNotFound   = NewDomainError(ErrorTypeNotFound, "decision record not found", nil)

	// Validation Errors
	ErrInvalidInput           = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidDefinition      = NewDomainError(ErrorTypeValidation, "invalid policy definition", nil)
	ErrInvalidAssignment      = NewDomainError(ErrorTypeValidation, "invalid policy assignment", nil)
	ErrInvalidResource        = NewDomainError(ErrorTypeValidation, "invalid resource", nil)
	ErrInvalidScope           = NewDomainError(ErrorTypeValidation, "invalid scope path", nil)
	ErrInvalidPredicate       = NewDomainError(ErrorTypeValidation, "invalid predicate", nil)
	ErrInvalidParameterValues = NewDomainError(ErrorTypeValidation, "invalid parameter values", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden                = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions  = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	// Conflict Errors
	ErrDuplicateDefinition = NewDomainError(ErrorTypeConflict, "definition ID already exists", nil)
	ErrConcurrentUpdate    = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Configuration Errors (policy configuration problems surfaced at evaluation)
	ErrUnresolvedParameter = NewDomainError(ErrorTypeConfiguration, "unresolved policy parameter", nil)
	ErrMalformedPredicate  = NewDomainError(ErrorTypeConfiguration, "malformed predicate", nil)
	ErrMissingDefinition   = NewDomainError(ErrorTypeConfiguration, "assignment references missing definition", nil)
	ErrUnsupportedEffect   = NewDomainError(ErrorTypeConfiguration, "unsupported policy effect", nil)

	// Policy Denial Errors
	ErrAdmissionDenied = NewDomainError(ErrorTypePolicyDenial, "admission denied by policy", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
	ErrCacheFailed       = NewDomainError(ErrorTypeInternal, "cache operation failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConflict
	}
	return false
}

// IsConfigurationError checks if an error is a policy configuration error
func IsConfigurationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConfiguration
	}
	return false
}

// IsPolicyDenialError checks if an error is a policy denial error
func IsPolicyDenialError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypePolicyDenial
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapValidation wraps an error as a validation error
func WrapValidation(message string, err error) error {
	return NewDomainError(ErrorTypeValidation, message, err)
}
