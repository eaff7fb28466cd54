package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
)

// AuthHandler handles HTTP requests for authentication
type AuthHandler struct {
	service service.AuthService
	cookies *CookieWriter
	logger  *slog.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(service service.AuthService, cookies *CookieWriter, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		logger:  logger,
	}
}

// Request/Response DTOs
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	FirstName string `json:"first_name" binding:"required,max=100"`
	LastName  string `json:"last_name" binding:"required,max=100"`
	Phone     string `json:"phone" binding:"max=32"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type ResendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func newTokenResponse(pair *service.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}
}

// Register handles POST /auth/register. No tokens are issued until the
// emailed link is followed.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	user, err := h.service.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("verification email sent to %s", user.Email),
		"user":    user,
	})
}

// Login handles POST /auth/login. With two-factor enabled it answers 202
// and an empty body; the tokens come from the emailed link.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	_, tokens, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	if tokens == nil {
		c.JSON(http.StatusAccepted, gin.H{})
		return
	}

	h.respondWithTokens(c, tokens)
}

// RefreshToken handles POST /auth/refresh with the refresh token as bearer.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	tokens, err := h.service.RefreshToken(c.Request.Context(), middleware.BearerToken(c))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.respondWithTokens(c, tokens)
}

// Logout handles POST /auth/logout with the access token as bearer. Cookies
// are cleared either way.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context(), middleware.BearerToken(c)); err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.cookies.Clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// VerifyLink handles GET /auth/verify?token=, the target of emailed links.
func (h *AuthHandler) VerifyLink(c *gin.Context) {
	_, tokens, err := h.service.RedeemLink(c.Request.Context(), c.Query("token"))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.respondWithTokens(c, tokens)
}

// VerifyEmail handles POST /auth/verify.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	_, tokens, err := h.service.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.respondWithTokens(c, tokens)
}

// ConfirmTwoFactor handles POST /auth/2fa/confirm.
func (h *AuthHandler) ConfirmTwoFactor(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	_, tokens, err := h.service.ConfirmTwoFactor(c.Request.Context(), req.Token)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.respondWithTokens(c, tokens)
}

// ResendVerification handles POST /auth/verify/resend. The answer is the
// same whether or not the address exists.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	if err := h.service.ResendVerification(c.Request.Context(), req.Email); err != nil {
		WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "If the account exists and is unverified, a new link was sent"})
}

func (h *AuthHandler) respondWithTokens(c *gin.Context, tokens *service.TokenPair) {
	h.cookies.SetTokens(c, tokens)
	c.JSON(http.StatusOK, newTokenResponse(tokens))
}
