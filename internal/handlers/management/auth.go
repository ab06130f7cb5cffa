package management

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"routecodex-go/internal/middleware"
	"routecodex-go/internal/netutil"
)

// requireKey guards every management route. It accepts the key as
// Bearer token or x-api-key header; with a configured bcrypt hash the
// plain key is ignored so the secret never has to live in config files.
func (h *Handler) requireKey(c *gin.Context) {
	provided := middleware.ExtractClientKey(c)
	route := c.FullPath()
	// 指标标签用来源分类而不是原始 IP，避免基数失控
	source := netutil.SourceClass(c.Request)

	if !h.keyMatches(provided) {
		middleware.RecordManagementAccess(route, "denied", source)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": "management key required", "type": "authentication_error"},
		})
		return
	}
	middleware.RecordManagementAccess(route, "ok", source)
	c.Next()
}

func (h *Handler) keyMatches(provided string) bool {
	if provided == "" {
		return false
	}
	if h.keyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(h.keyHash), []byte(provided)) == nil
	}
	if h.key == "" {
		// 未配置管理密钥时整个面默认拒绝
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.key)) == 1
}
