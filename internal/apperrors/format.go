package apperrors

import (
	"encoding/json"
	"net/http"
)

// Envelope represents the wire format for the error body.
type Envelope string

const (
	EnvelopeOpenAI    Envelope = "openai"
	EnvelopeAnthropic Envelope = "anthropic"
)

// ToJSON renders the error in the requested envelope. Unknown envelopes
// fall back to the OpenAI shape.
func (e *AppError) ToJSON(format Envelope) ([]byte, error) {
	switch format {
	case EnvelopeAnthropic:
		return e.toAnthropicJSON()
	default:
		return e.toOpenAIJSON()
	}
}

func (e *AppError) toOpenAIJSON() ([]byte, error) {
	errObj := OpenAIEnvelope{}
	errObj.Error.Message = e.Message
	errObj.Error.Type = e.Type
	errObj.Error.Code = e.Code
	return json.Marshal(errObj)
}

func (e *AppError) toAnthropicJSON() ([]byte, error) {
	errObj := AnthropicEnvelope{Type: "error"}
	errObj.Error.Type = e.toAnthropicType()
	errObj.Error.Message = e.Message
	return json.Marshal(errObj)
}

// toAnthropicType maps categories onto the types Anthropic clients parse.
func (e *AppError) toAnthropicType() string {
	switch e.Category {
	case CategoryValidation:
		return "invalid_request_error"
	case CategoryAuth:
		if e.HTTPStatus == http.StatusForbidden {
			return "permission_error"
		}
		return "authentication_error"
	case CategoryRateLimit:
		return "rate_limit_error"
	case CategoryAdmission:
		return "overloaded_error"
	default:
		return "api_error"
	}
}
