package middleware

import (
	"net/http"

	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/AnTengye/docchain/service"
	"github.com/gin-gonic/gin"
)

const (
	LoginPath = "/login"
	HomePath  = "/documents"

	sessionKey = "session"
)

// Decision is what the guard does with a request.
type Decision int

const (
	RenderLoading Decision = iota
	RedirectLogin
	RenderBare
	RenderShell
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case RenderLoading:
		return "render-loading"
	case RedirectLogin:
		return "redirect-login"
	case RenderBare:
		return "render-bare"
	case RenderShell:
		return "render-shell"
	case RedirectHome:
		return "redirect-home"
	default:
		return "unknown"
	}
}

// Decide is a pure function of the session and the requested path.
func Decide(sess service.Session, path string) Decision {
	onLogin := path == LoginPath
	switch {
	case sess.Loading():
		return RenderLoading
	case !sess.Authenticated() && onLogin:
		return RenderBare
	case !sess.Authenticated():
		return RedirectLogin
	case onLogin:
		return RedirectHome
	default:
		return RenderShell
	}
}

// Guard resolves the viewer's session once per request and gates every
// screen behind it. Unauthenticated requests are redirected before any
// handler runs, so no document fetch is attempted for them.
func Guard(store *service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := store.Restore(c.Request, c.Writer)
		c.Set(sessionKey, sess)

		if sess.Authenticated() {
			ctx := logger.WithUser(c.Request.Context(), sess.User.Email, string(sess.User.Role))
			c.Request = c.Request.WithContext(ctx)
		}

		switch Decide(sess, c.Request.URL.Path) {
		case RenderLoading:
			c.HTML(http.StatusOK, "loading.html", gin.H{"Title": "Loading", "Session": sess})
			c.Abort()
			return
		case RedirectLogin:
			c.Redirect(http.StatusSeeOther, LoginPath)
			c.Abort()
			return
		case RedirectHome:
			c.Redirect(http.StatusSeeOther, HomePath)
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetSession returns the session resolved by Guard. Without Guard it is
// the initializing zero value.
func GetSession(c *gin.Context) service.Session {
	if v, exists := c.Get(sessionKey); exists {
		if sess, ok := v.(service.Session); ok {
			return sess
		}
	}
	return service.Session{}
}
