package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/httpformat"
)

// AuthConfig holds client authentication configuration.
type AuthConfig struct {
	// RequiredKey is the expected API key. Empty disables auth entirely,
	// which is the default for a loopback-only gateway.
	RequiredKey string
	// CustomValidator overrides the equality check when set.
	CustomValidator func(key string) bool
}

// UnifiedAuth accepts the client key from any of the places LLM clients
// put it:
//   - Authorization: Bearer <key>
//   - x-api-key: <key>            (Anthropic clients)
//   - ?key=<key>                  (quick curl testing)
//
// The extracted key is stored under the "api_key" context key so the rate
// limiter can bucket by caller.
func UnifiedAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.RequiredKey == "" && cfg.CustomValidator == nil {
			c.Next()
			return
		}

		providedKey := ExtractClientKey(c)

		// 自定义校验器全权决定，包括是否放行匿名请求
		if cfg.CustomValidator != nil {
			if !cfg.CustomValidator(providedKey) {
				respondUnauthorized(c, "Invalid API key")
				return
			}
		} else if providedKey == "" {
			respondUnauthorized(c, "API key not provided")
			return
		} else if subtle.ConstantTimeCompare([]byte(providedKey), []byte(cfg.RequiredKey)) != 1 {
			respondUnauthorized(c, "Invalid API key")
			return
		}

		c.Set("api_key", providedKey)
		c.Next()
	}
}

// ExtractClientKey pulls the caller's API key from the request without
// validating it.
func ExtractClientKey(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if key := strings.TrimSpace(c.GetHeader("x-api-key")); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query("key"))
}

// respondUnauthorized writes a 401 in the envelope matching the client's
// surface and aborts the chain.
func respondUnauthorized(c *gin.Context, message string) {
	appErr := apperrors.NewAuthError(message, false)
	body, err := appErr.ToJSON(httpformat.DetectFromContext(c))
	if err != nil {
		c.AbortWithStatus(appErr.HTTPStatus)
		return
	}
	c.Header("Content-Type", "application/json")
	c.Status(appErr.HTTPStatus)
	_, _ = c.Writer.Write(body)
	c.Abort()
}
