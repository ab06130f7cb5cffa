package openaichat

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/modelcatalog"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/translator"
)

// Handler serves the OpenAI chat completions surface.
type Handler struct {
	gw *common.Gateway
}

func New(gw *common.Gateway) *Handler {
	return &Handler{gw: gw}
}

// Register mounts the surface routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/chat/completions", h.ChatCompletions)
	r.GET("/v1/models", h.ListModels)
}

// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c *gin.Context) {
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
		Dialect:   translator.FormatOpenAIChat,
		Model:     model,
		Body:      body,
		Stream:    stream,
		Headers:   common.EchoHeaders(c),
	})
}

// GET /v1/models
func (h *Handler) ListModels(c *gin.Context) {
	cat := h.gw.Catalog()
	if cat == nil {
		c.JSON(http.StatusOK, modelcatalog.ListResponse{Object: "list", Data: []modelcatalog.ListItem{}})
		return
	}
	c.JSON(http.StatusOK, cat.OpenAIList())
}
