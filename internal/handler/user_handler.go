package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
)

// UserHandler handles self-service requests of the signed-in user
type UserHandler struct {
	userService service.UserService
	logger      *slog.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

type TwoFactorRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GetProfile handles GET /users/me
func (h *UserHandler) GetProfile(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	user, err := h.userService.Profile(c.Request.Context(), principal)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"permissions": principal.Permissions,
	})
}

// SetTwoFactor handles PUT /users/me/two-factor
func (h *UserHandler) SetTwoFactor(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req TwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	user, err := h.userService.SetTwoFactor(c.Request.Context(), principal, *req.Enabled)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
