package apperrors

import (
	"context"
	"errors"
	"strings"
)

// MapNetworkError maps transport-level failures to taxonomy categories.
// Context cancellation is kept distinct so the runtime can suppress the
// client response entirely on disconnect.
func MapNetworkError(err error) *AppError {
	if errors.Is(err, context.Canceled) {
		e := NewTimeoutError("Request was canceled")
		e.Code = "request_canceled"
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Upstream deadline exceeded")
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return NewTimeoutError("Request timeout: " + errMsg)
	case strings.Contains(errMsg, "connection refused"):
		return NewUpstreamError("Connection refused: " + errMsg)
	case strings.Contains(errMsg, "EOF") || strings.Contains(errMsg, "connection reset"):
		return NewUpstreamError("Connection error: " + errMsg)
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "name resolution"):
		return NewUpstreamError("DNS resolution error: " + errMsg)
	case strings.Contains(errMsg, "certificate") || strings.Contains(errMsg, "tls"):
		return NewUpstreamError("TLS error: " + errMsg)
	default:
		return NewUpstreamError("Network error: " + errMsg)
	}
}

// IsCanceled reports whether the error chain carries a client-side cancel.
func IsCanceled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == "request_canceled"
	}
	return false
}
