package codex

import (
	"github.com/gin-gonic/gin"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/translator"
)

// Handler serves the Codex responses surface.
type Handler struct {
	gw *common.Gateway
}

func New(gw *common.Gateway) *Handler {
	return &Handler{gw: gw}
}

// Register mounts the surface routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/responses", h.Responses)
}

// POST /v1/responses
func (h *Handler) Responses(c *gin.Context) {
	body, appErr := common.ReadBody(c)
	if appErr != nil {
		common.WriteAppError(c, appErr)
		return
	}
	model, stream := common.ModelAndStream(body)
	if model == "" {
		common.WriteAppError(c, apperrors.NewValidationError("model is required"))
		return
	}

	h.gw.Handle(c, &pipeline.Request{
		RequestID: common.RequestID(c),
		Dialect:   translator.FormatCodexResponses,
		Model:     model,
		Body:      body,
		Stream:    stream,
		Headers:   common.EchoHeaders(c),
	})
}
