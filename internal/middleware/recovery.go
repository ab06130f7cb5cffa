package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/httpformat"
)

// Recovery 返回一个 panic 恢复中间件：记录堆栈并按客户端方言返回 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.WithFields(log.Fields{
					"error":     r,
					"stack":     string(stack),
					"path":      c.Request.URL.Path,
					"method":    c.Request.Method,
					"client_ip": c.ClientIP(),
				}).Error("panic recovered")

				appErr := apperrors.NewInternalError("internal server error")
				appErr.Code = "panic_recovered"
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
		}()

		c.Next()
	}
}

// SafeGo 安全地启动后台 goroutine，panic 只打日志不拖垮进程
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"goroutine": name,
					"error":     r,
					"stack":     string(debug.Stack()),
				}).Error("goroutine panic recovered")
			}
		}()
		fn()
	}()
}
