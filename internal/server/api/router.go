package api

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/HenryLai921/share-files/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true

	renderer, err := NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to set up renderer: %w", err)
	}
	e.Renderer = renderer

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(RequestLogger())

	auth := SessionAuth([]byte(cfg.SessionSecret))

	// Rate limiters on the abuse-prone endpoints
	loginLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Public
	e.GET("/", handler.HandleIndex)
	e.GET("/login", handler.ShowLogin)
	e.POST("/login", handler.HandleLogin, loginLimiter.Middleware())
	e.GET("/register", handler.ShowRegister)
	e.POST("/register", handler.HandleRegister)
	e.GET("/logout", handler.HandleLogout)
	e.GET("/download/:download_id", handler.HandleDownload)
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Authenticated pages
	e.GET("/dashboard", handler.HandleDashboard, auth)
	e.GET("/upload", handler.ShowUpload, auth)
	e.POST("/upload", handler.HandleUpload, auth, uploadLimiter.Middleware())
	e.POST("/delete/:file_id", handler.HandleDelete, auth)

	// Authenticated JSON API
	e.GET("/api/files", handler.HandleAPIFiles, auth)
	e.POST("/api/upload", handler.HandleAPIUpload, auth, uploadLimiter.Middleware())

	return e, nil
}
