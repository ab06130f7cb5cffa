package apperrors

import (
	"errors"
	"net/http"
)

// New builds an AppError with the category's default HTTP status.
func New(category Category, code, errType, message string) *AppError {
	return &AppError{
		HTTPStatus: category.HTTPStatus(),
		Category:   category,
		Code:       code,
		Type:       errType,
		Message:    message,
	}
}

func NewValidationError(message string) *AppError {
	return New(CategoryValidation, "invalid_request", "invalid_request_error", message)
}

// NewAuthError covers both gateway-side key rejection and upstream
// credential refusal. forbidden switches 401 to 403.
func NewAuthError(message string, forbidden bool) *AppError {
	e := New(CategoryAuth, "invalid_api_key", "authentication_error", message)
	if forbidden {
		e.HTTPStatus = http.StatusForbidden
		e.Code = "permission_denied"
		e.Type = "permission_error"
	}
	return e
}

func NewRateLimitError(message string) *AppError {
	return New(CategoryRateLimit, "rate_limit_exceeded", "rate_limit_error", message)
}

func NewUpstreamError(message string) *AppError {
	return New(CategoryUpstream, "bad_gateway", "upstream_error", message)
}

func NewTimeoutError(message string) *AppError {
	return New(CategoryTimeout, "timeout", "timeout_error", message)
}

func NewAdmissionError(message string) *AppError {
	return New(CategoryAdmission, "no_available_pipeline", "admission_error", message)
}

func NewInternalError(message string) *AppError {
	return New(CategoryInternal, "internal_error", "internal_error", message)
}

// AsAppError unwraps err to an *AppError, converting plain errors into
// internal errors so the gateway never leaks raw messages unmapped.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(err.Error())
}
