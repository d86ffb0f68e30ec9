package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid         ErrorCode = "invalid"
	ErrorNotFound        ErrorCode = "not_found"
	ErrorConflict        ErrorCode = "conflict"
	ErrorUnauthorized    ErrorCode = "unauthorized"
	ErrorTooManyRequests ErrorCode = "too_many_requests"
	ErrorTooLarge        ErrorCode = "too_large"
)

// Issue points at one offending field of a rejected payload.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type ServiceError struct {
	Code    ErrorCode
	Message string
	Issues  []Issue
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewTooManyRequestsError(msg string) error {
	return &ServiceError{Code: ErrorTooManyRequests, Message: msg}
}

func NewTooLargeError(msg string) error { return &ServiceError{Code: ErrorTooLarge, Message: msg} }

// NewValidationError is an invalid error carrying per-field issues.
func NewValidationError(msg string, issues []Issue) error {
	return &ServiceError{Code: ErrorInvalid, Message: msg, Issues: issues}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
