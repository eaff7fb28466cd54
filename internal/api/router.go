package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/handler"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth  *handler.AuthHandler
	OAuth *handler.OAuthHandler
	User  *handler.UserHandler
	Admin *handler.AdminHandler
}

// Options carries the cross-cutting pieces of the HTTP stack.
type Options struct {
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    middleware.RateLimiter
	Metrics        *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

func SetupRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.SetTrustedProxies(nil)

	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(middleware.Recovery(opts.Logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
	}
	auth := opts.AuthMiddleware
	r.Use(auth.Authenticate())

	// Public routes
	r.GET("/health", health)
	r.GET("/api/v1/health", health)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// Auth routes (Public)
	authGroup := r.Group("/api/v1/auth")
	if opts.RateLimiter != nil {
		authGroup.Use(middleware.RateLimit(opts.RateLimiter, opts.Logger))
	}
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.RefreshToken)
		authGroup.POST("/logout", h.Auth.Logout)
		authGroup.GET("/verify", h.Auth.VerifyLink)
		authGroup.POST("/verify", h.Auth.VerifyEmail)
		authGroup.POST("/verify/resend", h.Auth.ResendVerification)
		authGroup.POST("/2fa/confirm", h.Auth.ConfirmTwoFactor)
		authGroup.GET("/oauth2/:provider", h.OAuth.Login)
		authGroup.GET("/oauth2/:provider/callback", h.OAuth.Callback)
	}

	// Protected API routes
	api := r.Group("/api/v1")
	api.Use(auth.RequireAuth())
	{
		api.GET("/users/me", h.User.GetProfile)
		api.PUT("/users/me/two-factor", h.User.SetTwoFactor)
	}

	admin := api.Group("/admin")
	admin.Use(auth.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", auth.RequirePermission("users:read"), h.Admin.ListUsers)
		admin.PATCH("/users/:id/disable", auth.RequirePermission("users:write"), h.Admin.DisableUser)
		admin.PATCH("/users/:id/enable", auth.RequirePermission("users:write"), h.Admin.EnableUser)
		admin.PUT("/users/:id/roles", auth.RequirePermission("roles:write"), h.Admin.AssignRoles)
		admin.GET("/roles", auth.RequirePermission("roles:read"), h.Admin.ListRoles)
	}

	r.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, "NotFound", "route not found")
	})

	return r
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
