package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AnTengye/docchain/middleware"
	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/AnTengye/docchain/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	store *service.SessionStore
}

func NewAuthHandler(store *service.SessionStore) *AuthHandler {
	return &AuthHandler{store: store}
}

// ShowLogin renders the sign-in form.
func (h *AuthHandler) ShowLogin(c *gin.Context) {
	render(c, http.StatusOK, "login.html", "Sign in", nil)
}

// Login handles the sign-in form post
func (h *AuthHandler) Login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")

	if email == "" || password == "" {
		render(c, http.StatusBadRequest, "login.html", "Sign in", gin.H{
			"Email": email,
			"Error": "Email and password are required",
		})
		return
	}

	if _, err := h.store.Login(c.Request, c.Writer, email, password); err != nil {
		status, msg := http.StatusBadGateway, "Login failed. Please try again."
		if errors.Is(err, service.ErrAuthentication) {
			status, msg = http.StatusUnauthorized, "Invalid email or password"
		}
		render(c, status, "login.html", "Sign in", gin.H{
			"Email": email,
			"Error": msg,
		})
		return
	}

	c.Redirect(http.StatusSeeOther, middleware.HomePath)
}

// Logout forgets the session locally and returns to the login screen.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.store.Logout(c.Request, c.Writer); err != nil {
		logger.Error(c.Request.Context(), "failed to clear session on logout", "error", err)
	}
	c.Redirect(http.StatusSeeOther, middleware.LoginPath)
}
