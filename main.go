package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AnTengye/docchain/config"
	"github.com/AnTengye/docchain/handler"
	"github.com/AnTengye/docchain/middleware"
	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/AnTengye/docchain/service"
	"github.com/AnTengye/docchain/web"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
)

func main() {
	// Load configuration
	cfg, err := config.LoadOrDefault("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "api_base_url", cfg.API.BaseURL)

	if cfg.Session.Secret == "" {
		// Sessions will not survive a restart.
		cfg.Session.Secret = hex.EncodeToString(securecookie.GenerateRandomKey(32))
		slog.Warn("session.secret not set, using a random key")
	}

	// Initialize services
	apiClient := service.NewAPIClient(&cfg.API)
	slog.Info("api client ready", "base_url", apiClient.BaseURL())
	userCache := service.NewUserCache(&cfg.Cache)
	sessionStore := service.NewSessionStore(&cfg.Session, apiClient, userCache)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(sessionStore)
	documentHandler := handler.NewDocumentHandler(sessionStore)

	tmpl, err := web.Templates()
	if err != nil {
		slog.Error("failed to parse templates", "error", err)
		os.Exit(1)
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.SetHTMLTemplate(tmpl)

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(cacheMiddleware())
	router.Use(middleware.RateLimit(cfg.RateLimit.Requests, time.Minute))

	router.StaticFS("/static", web.Static())
	router.NoRoute(handler.NotFound)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusSeeOther, middleware.HomePath)
	})

	// Every screen goes through the guard
	screens := router.Group("/")
	screens.Use(middleware.CSRF(sessionStore))
	screens.Use(middleware.Guard(sessionStore))
	{
		screens.GET("/login", authHandler.ShowLogin)
		screens.POST("/login", middleware.RateLimit(cfg.RateLimit.LoginRequests, time.Minute), authHandler.Login)
		screens.POST("/logout", authHandler.Logout)

		screens.GET("/documents", documentHandler.List)
		screens.POST("/documents", documentHandler.Create)
		screens.GET("/documents/:id", documentHandler.Show)
		screens.POST("/documents/:id/approve", documentHandler.Approve)
		screens.POST("/documents/:id/reject", documentHandler.Reject)
		screens.GET("/activity", documentHandler.Activity)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.API.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// cacheMiddleware lets browsers keep the stylesheet; screens are per user
// and never cached.
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/static/") {
			c.Header("Cache-Control", "public, max-age=3600, must-revalidate")
		} else {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
