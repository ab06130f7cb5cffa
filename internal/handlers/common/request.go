package common

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/constants"
)

// ReadBody drains the request body up to the gateway payload cap. A body
// over the cap is rejected outright instead of being truncated.
func ReadBody(c *gin.Context) ([]byte, *apperrors.AppError) {
	if c.Request.Body == nil {
		return nil, apperrors.NewValidationError("request body is required")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, constants.MaxRequestBodyBytes+1))
	if err != nil {
		return nil, apperrors.NewValidationError("failed to read request body: " + err.Error())
	}
	if len(body) > constants.MaxRequestBodyBytes {
		appErr := apperrors.New(apperrors.CategoryValidation, "payload_too_large", "invalid_request_error", "request body exceeds the size limit")
		appErr.HTTPStatus = http.StatusRequestEntityTooLarge
		return nil, appErr
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperrors.NewValidationError("request body is required")
	}
	return body, nil
}

// ModelAndStream probes the raw JSON for the two fields every dialect
// shares. Parsing stays lazy; the pipeline stages own full validation.
func ModelAndStream(body []byte) (string, bool) {
	return gjson.GetBytes(body, "model").String(), gjson.GetBytes(body, "stream").Bool()
}

// RequestID returns the ID minted (or echoed) by the middleware chain.
func RequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// echoedHeaders are the inbound headers forwarded upstream verbatim.
// Auth headers never pass through; the provider re-derives them from
// the pipeline credential.
var echoedHeaders = []string{
	"Anthropic-Version",
	"Anthropic-Beta",
	"OpenAI-Beta",
	"Accept-Language",
}

// EchoHeaders collects the forwardable subset of the client's headers.
func EchoHeaders(c *gin.Context) http.Header {
	h := http.Header{}
	for _, k := range echoedHeaders {
		if v := c.GetHeader(k); v != "" {
			h.Set(k, v)
		}
	}
	return h
}
