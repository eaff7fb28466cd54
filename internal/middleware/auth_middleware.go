package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
)

// Cookie names used to mirror issued tokens to browsers.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

const principalKey = "principal"

// AuthMiddleware resolves the caller identity from an access token
type AuthMiddleware struct {
	service service.AuthService
	logger  *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware instance
func NewAuthMiddleware(service service.AuthService, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		service: service,
		logger:  logger,
	}
}

// Authenticate runs on every request. It never rejects: a missing or bad
// token leaves the request anonymous and the route guards decide.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			c.Next()
			return
		}

		principal, err := m.service.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			m.logger.Debug("🔓 [Middleware] Token rejected, continuing anonymously", "error", err)
			c.Next()
			return
		}

		SetPrincipal(c, *principal)
		m.logger.Debug("✅ [Middleware] Token validated", "user_id", principal.UserID)

		c.Next()
	}
}

// RequireAuth rejects anonymous requests with 401.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			m.logger.Warn("⚠️ [Middleware] Unauthenticated request", "path", c.FullPath())
			AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		c.Next()
	}
}

// RequireRole allows callers holding any of the given roles.
func (m *AuthMiddleware) RequireRole(titles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		if !principal.HasRole(titles...) {
			m.logger.Warn("⚠️ [Middleware] Role check failed", "user_id", principal.UserID, "required", titles)
			AbortWithError(c, http.StatusForbidden, "Forbidden", "insufficient role")
			return
		}
		c.Next()
	}
}

// RequirePermission allows callers whose roles grant permission.
func (m *AuthMiddleware) RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		if !principal.HasPermission(permission) {
			m.logger.Warn("⚠️ [Middleware] Permission check failed", "user_id", principal.UserID, "required", permission)
			AbortWithError(c, http.StatusForbidden, "Forbidden", "missing permission "+permission)
			return
		}
		c.Next()
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(c *gin.Context) string {
	scheme, tokenString, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tokenString)
}

// ExtractToken prefers the Authorization header and falls back to the
// access token cookie.
func ExtractToken(c *gin.Context) string {
	if tokenString := BearerToken(c); tokenString != "" {
		return tokenString
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

// SetPrincipal stores the identity in the gin context and in the request
// context so services reached through c.Request.Context() see it too.
func SetPrincipal(c *gin.Context, principal auth.Principal) {
	c.Set(principalKey, principal)
	c.Request = c.Request.WithContext(auth.ContextWithPrincipal(c.Request.Context(), principal))
}

// GetPrincipal returns the identity attached by Authenticate.
func GetPrincipal(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := v.(auth.Principal)
	return principal, ok
}
