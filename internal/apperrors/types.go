package apperrors

import (
	"fmt"
	"net/http"
)

// Category classifies a failure for routing decisions and HTTP mapping.
// The set is closed; stages and providers must pick one.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryRateLimit  Category = "rate_limit"
	CategoryUpstream   Category = "upstream"
	CategoryTimeout    Category = "timeout"
	CategoryAdmission  Category = "admission"
	CategoryInternal   Category = "internal"
)

// Retriable reports whether the router may re-enter selection after this
// category. Auth and rate-limit failures are retriable on a different
// credential only; timeouts are retriable once. The router enforces both
// refinements, this is the coarse gate.
func (c Category) Retriable() bool {
	switch c {
	case CategoryRateLimit, CategoryAuth, CategoryTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the client-facing status for the category. Auth
// defaults to 401; a 403 from upstream overrides it on the AppError.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryUpstream:
		return http.StatusBadGateway
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	case CategoryAdmission:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standardized error carried through stages, runtime and
// router up to the gateway. PipelineID and CredentialID are tagged by the
// runtime after selection so failover and logs can attribute the failure.
type AppError struct {
	HTTPStatus   int
	Category     Category
	Code         string
	Message      string
	Type         string
	PipelineID   string
	CredentialID string
	Details      map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Retriable mirrors Category.Retriable for call sites holding the error.
func (e *AppError) Retriable() bool { return e.Category.Retriable() }

// WithPipeline tags the error with the pipeline and credential it failed
// on. Returns the receiver for chaining.
func (e *AppError) WithPipeline(pipelineID, credentialID string) *AppError {
	e.PipelineID = pipelineID
	e.CredentialID = credentialID
	return e
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// OpenAIEnvelope mirrors the OpenAI error envelope.
type OpenAIEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Param   string `json:"param,omitempty"`
	} `json:"error"`
}

// AnthropicEnvelope mirrors the Anthropic messages error envelope.
type AnthropicEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
