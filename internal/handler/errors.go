package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
)

type errorMapping struct {
	err    error
	status int
	label  string
}

var errorMappings = []errorMapping{
	{service.ErrNotFound, http.StatusNotFound, "NotFound"},
	{service.ErrAlreadyExists, http.StatusConflict, "AlreadyExists"},
	{service.ErrAlreadyDisabled, http.StatusConflict, "AlreadyDisabled"},
	{service.ErrAlreadyEnabled, http.StatusConflict, "AlreadyEnabled"},
	{service.ErrIncorrectRequest, http.StatusBadRequest, "IncorrectRequest"},
	{service.ErrUnsupportedProvider, http.StatusBadRequest, "UnsupportedProvider"},
	{service.ErrVerificationRequired, http.StatusForbidden, "VerificationRequired"},
	{service.ErrAccountDisabled, http.StatusForbidden, "AccountDisabled"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "TokenExpired"},
	{service.ErrNoTokenProvided, http.StatusUnauthorized, "NoTokenProvided"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "InvalidCredentials"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "InvalidToken"},
}

// WriteError maps service errors to the error envelope. The message is the
// sentinel text, never the wrapped detail.
func WriteError(c *gin.Context, logger *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			middleware.AbortWithError(c, m.status, m.label, m.err.Error())
			return
		}
	}
	logger.Error("❌ [Handler] Internal server error", "path", c.FullPath(), "error", err)
	middleware.AbortWithError(c, http.StatusInternalServerError, "InternalError", "internal error")
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("⚠️ [Handler] Invalid request", "path", c.FullPath(), "error", err)
	middleware.AbortWithError(c, http.StatusBadRequest, "IncorrectRequest", service.ErrIncorrectRequest.Error())
}

// principalOrAbort answers 401 when the route was mounted without a guard
// and the caller is anonymous.
func principalOrAbort(c *gin.Context) (auth.Principal, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		middleware.AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "authentication required")
	}
	return principal, ok
}
