package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic in any handler into a plain 500 page that quotes
// the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.String(http.StatusInternalServerError, "Internal server error (request %s)", GetRequestID(c))
				c.Abort()
			}
		}()

		c.Next()
	}
}
