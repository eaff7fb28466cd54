package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AbortWithError writes the error envelope and stops the chain.
func AbortWithError(c *gin.Context, status int, label, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:  status,
		Error:   label,
		Message: message,
	})
}

// Recovery turns panics into a generic 500 envelope.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("💥 [Middleware] Panic recovered",
			"path", c.Request.URL.Path,
			"request_id", c.GetString(RequestIDKey),
			"panic", recovered,
		)
		AbortWithError(c, http.StatusInternalServerError, "InternalError", "internal error")
	})
}
