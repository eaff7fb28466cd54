package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
)

// AdminHandler handles account administration requests
type AdminHandler struct {
	userService service.UserService
	logger      *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(userService service.UserService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		userService: userService,
		logger:      logger,
	}
}

// AssignRolesRequest represents the request body for replacing user roles
type AssignRolesRequest struct {
	Roles []string `json:"roles" binding:"required,min=1"`
}

// ListUsers handles GET /admin/users?page=&pageSize=
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "0"))

	users, total, err := h.userService.List(c.Request.Context(), page, pageSize)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"total": total,
		"page":  max(page, 1),
	})
}

// DisableUser handles PATCH /admin/users/:id/disable
func (h *AdminHandler) DisableUser(c *gin.Context) {
	actor, ok := principalOrAbort(c)
	if !ok {
		return
	}
	userID, ok := h.parseUserID(c)
	if !ok {
		return
	}

	if err := h.userService.Disable(c.Request.Context(), actor, userID); err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User disabled"})
}

// EnableUser handles PATCH /admin/users/:id/enable
func (h *AdminHandler) EnableUser(c *gin.Context) {
	actor, ok := principalOrAbort(c)
	if !ok {
		return
	}
	userID, ok := h.parseUserID(c)
	if !ok {
		return
	}

	if err := h.userService.Enable(c.Request.Context(), actor, userID); err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User enabled"})
}

// AssignRoles handles PUT /admin/users/:id/roles
func (h *AdminHandler) AssignRoles(c *gin.Context) {
	actor, ok := principalOrAbort(c)
	if !ok {
		return
	}
	userID, ok := h.parseUserID(c)
	if !ok {
		return
	}

	var req AssignRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	user, err := h.userService.AssignRoles(c.Request.Context(), actor, userID, req.Roles)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ListRoles handles GET /admin/roles
func (h *AdminHandler) ListRoles(c *gin.Context) {
	roles, err := h.userService.Roles(c.Request.Context())
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (h *AdminHandler) parseUserID(c *gin.Context) (uint, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		h.logger.Warn("⚠️ [AdminHandler] Invalid user ID", "user_id", idStr)
		middleware.AbortWithError(c, http.StatusBadRequest, "IncorrectRequest", "invalid user id")
		return 0, false
	}
	return uint(id), true
}
