package middleware

import (
	"net/http"

	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/AnTengye/docchain/service"
	"github.com/gin-gonic/gin"
)

const (
	// CSRFField is the hidden form field carrying the token.
	CSRFField = "csrf_token"

	csrfKey = "csrf_token"
)

// CSRF binds a token to the browser session and rejects state-changing
// form posts that do not echo it back.
func CSRF(store *service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := store.CSRFToken(c.Request, c.Writer)
		if err != nil {
			logger.Error(c.Request.Context(), "failed to issue csrf token", "error", err)
			c.String(http.StatusInternalServerError, "Internal server error")
			c.Abort()
			return
		}
		c.Set(csrfKey, token)

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !store.ValidCSRF(c.Request, c.PostForm(CSRFField)) {
				logger.Warn(c.Request.Context(), "csrf token mismatch", "path", c.Request.URL.Path)
				c.String(http.StatusForbidden, "Invalid or missing form token. Reload the page and try again.")
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

// GetCSRFToken returns the token to embed in forms.
func GetCSRFToken(c *gin.Context) string {
	return c.GetString(csrfKey)
}
