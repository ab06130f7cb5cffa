package common

import (
	"github.com/gin-gonic/gin"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/httpformat"
)

// WriteAppError writes err in the envelope matching the request surface:
// Anthropic routes get {"type":"error",...}, everything else the OpenAI
// {"error":{...}} shape.
func WriteAppError(c *gin.Context, appErr *apperrors.AppError) {
	body, err := appErr.ToJSON(httpformat.DetectFromContext(c))
	if err != nil {
		c.Status(appErr.HTTPStatus)
		return
	}
	c.Header("Content-Type", "application/json")
	c.Status(appErr.HTTPStatus)
	_, _ = c.Writer.Write(body)
}

// WriteError coerces an arbitrary error into the taxonomy first.
func WriteError(c *gin.Context, err error) {
	WriteAppError(c, apperrors.AsAppError(err))
}
