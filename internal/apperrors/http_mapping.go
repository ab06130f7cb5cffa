package apperrors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"routecodex-go/internal/constants"
)

// MapUpstreamStatus maps an upstream HTTP status and payload to a
// categorized error. This is the single place upstream statuses become
// taxonomy categories.
func MapUpstreamStatus(statusCode int, upstreamBody []byte) *AppError {
	upstreamMsg := extractUpstreamMessage(upstreamBody)

	switch statusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return NewValidationError(firstNonEmpty(upstreamMsg, "Upstream rejected the request"))
	case http.StatusUnauthorized:
		return NewAuthError(firstNonEmpty(upstreamMsg, "Upstream refused the credential"), false)
	case http.StatusForbidden:
		return NewAuthError(firstNonEmpty(upstreamMsg, "Upstream denied access"), true)
	case http.StatusTooManyRequests:
		return NewRateLimitError(firstNonEmpty(upstreamMsg, "Upstream rate limit exceeded"))
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return NewTimeoutError(firstNonEmpty(upstreamMsg, "Upstream request timeout"))
	default:
		if statusCode >= 500 {
			return NewUpstreamError(firstNonEmpty(upstreamMsg, fmt.Sprintf("Upstream returned HTTP %d", statusCode)))
		}
		return NewUpstreamError(firstNonEmpty(upstreamMsg, fmt.Sprintf("Unexpected upstream HTTP %d", statusCode)))
	}
}

// extractUpstreamMessage pulls error.message out of a JSON error body,
// falling back to a truncated raw body.
func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var jsonErr map[string]interface{}
	if err := json.Unmarshal(body, &jsonErr); err == nil {
		if errObj, ok := jsonErr["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
		// Anthropic nests the message one level deeper on stream errors.
		if msg, ok := jsonErr["message"].(string); ok && msg != "" {
			return msg
		}
	}
	msg := string(body)
	if len(msg) > constants.MaxErrorMessageLength {
		return msg[:constants.MaxErrorMessageLength] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
