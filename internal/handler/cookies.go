package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/config"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
)

// CookieWriter mirrors issued tokens into HttpOnly cookies whose lifetime
// matches the token lifetime.
type CookieWriter struct {
	secure     bool
	domain     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookieWriter(cfg *config.Config) *CookieWriter {
	return &CookieWriter{
		secure:     cfg.CookieSecure,
		domain:     cfg.CookieDomain,
		accessTTL:  config.Seconds(cfg.AccessTokenExpiration),
		refreshTTL: config.Seconds(cfg.RefreshTokenExpiration),
	}
}

// SetTokens writes both token cookies.
func (w *CookieWriter) SetTokens(c *gin.Context, pair *service.TokenPair) {
	http.SetCookie(c.Writer, w.cookie(middleware.AccessTokenCookie, pair.AccessToken, w.accessTTL))
	http.SetCookie(c.Writer, w.cookie(middleware.RefreshTokenCookie, pair.RefreshToken, w.refreshTTL))
}

// Clear expires both token cookies.
func (w *CookieWriter) Clear(c *gin.Context) {
	for _, name := range []string{middleware.AccessTokenCookie, middleware.RefreshTokenCookie} {
		cookie := w.cookie(name, "", 0)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		http.SetCookie(c.Writer, cookie)
	}
}

// Set writes an arbitrary short-lived cookie with the same flags.
func (w *CookieWriter) Set(c *gin.Context, name, value string, ttl time.Duration) {
	http.SetCookie(c.Writer, w.cookie(name, value, ttl))
}

func (w *CookieWriter) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   w.domain,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
