package anthropic

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/translator"
)

// defaultVersion is echoed when the client omits anthropic-version.
const defaultVersion = "2023-06-01"

// Handler serves the Anthropic messages surface.
type Handler struct {
	gw *common.Gateway
}

func New(gw *common.Gateway) *Handler {
	return &Handler{gw: gw}
}

// Register mounts the surface routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/messages", h.Messages)
	r.POST("/v1/messages/count_tokens", h.CountTokens)
}

// POST /v1/messages
func (h *Handler) Messages(c *gin.Context) {
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

	// 客户端带了版本头就原样回显，没带则回默认版本
	version := c.GetHeader("Anthropic-Version")
	if version == "" {
		version = defaultVersion
	}
	c.Header("Anthropic-Version", version)

	h.gw.Handle(c, &pipeline.Request{
		RequestID: common.RequestID(c),
		Dialect:   translator.FormatAnthropicMessages,
		Model:     model,
		Body:      body,
		Stream:    stream,
		Headers:   common.EchoHeaders(c),
	})
}

// POST /v1/messages/count_tokens
//
// Counting is local: the shared estimator tokenizes the textual content
// without an upstream round trip, so counts agree with what the router
// uses for longContext classification.
func (h *Handler) CountTokens(c *gin.Context) {
	body, appErr := common.ReadBody(c)
	if appErr != nil {
		common.WriteAppError(c, appErr)
		return
	}
	model, _ := common.ModelAndStream(body)
	if model == "" {
		common.WriteAppError(c, apperrors.NewValidationError("model is required"))
		return
	}

	tokens := h.gw.Router.Estimator().EstimateRequest(model, body)
	c.JSON(http.StatusOK, gin.H{"input_tokens": tokens})
}
