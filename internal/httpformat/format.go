package httpformat

import (
	"net/http"
	"strings"

	"routecodex-go/internal/apperrors"
	"github.com/gin-gonic/gin"
)

// DetectFromContext determines the error envelope based on the gin context path.
func DetectFromContext(c *gin.Context) apperrors.Envelope {
	if c == nil {
		return apperrors.EnvelopeOpenAI
	}
	if path := c.FullPath(); path != "" {
		return DetectFromPath(path)
	}
	return DetectFromRequest(c.Request)
}

// DetectFromRequest determines the error envelope using an HTTP request.
func DetectFromRequest(r *http.Request) apperrors.Envelope {
	if r == nil || r.URL == nil {
		return apperrors.EnvelopeOpenAI
	}
	return DetectFromPath(r.URL.Path)
}

// DetectFromPath determines the error envelope based on a raw path string.
// Anthropic clients hit /v1/messages*; everything else speaks OpenAI.
func DetectFromPath(path string) apperrors.Envelope {
	path = strings.ToLower(path)
	if strings.Contains(path, "/v1/messages") {
		return apperrors.EnvelopeAnthropic
	}
	return apperrors.EnvelopeOpenAI
}
