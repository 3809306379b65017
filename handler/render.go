package handler

import (
	"errors"
	"net/http"

	"github.com/AnTengye/docchain/middleware"
	"github.com/AnTengye/docchain/service"
	"github.com/gin-gonic/gin"
)

// render fills in what every screen needs and writes the template.
func render(c *gin.Context, status int, name, title string, data gin.H) {
	view := gin.H{
		"Title":   title,
		"Session": middleware.GetSession(c),
		"CSRF":    middleware.GetCSRFToken(c),
	}
	for k, v := range data {
		view[k] = v
	}
	c.HTML(status, name, view)
}

// sendToLogin handles an authentication failure from the API. It reports
// true when the response has been written.
func sendToLogin(c *gin.Context, store *service.SessionStore, err error) bool {
	if !store.Invalidate(c.Request, c.Writer, err) {
		return false
	}
	c.Redirect(http.StatusSeeOther, middleware.LoginPath)
	return true
}

// browserGone reports whether the browser stopped waiting. Results that
// arrive afterwards are dropped without a response body.
func browserGone(c *gin.Context) bool {
	if c.Request.Context().Err() == nil {
		return false
	}
	c.Abort()
	return true
}

// statusFor maps an API failure onto the status of the rendered page.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// NotFound renders the error screen for unknown routes.
func NotFound(c *gin.Context) {
	render(c, http.StatusNotFound, "error.html", "Page not found", gin.H{
		"Error": "The page you requested does not exist.",
	})
}
