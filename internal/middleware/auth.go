package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"medication-adherence-server/internal/config"
	"medication-adherence-server/internal/utils"
)

const userIDKey = "userID"

// AuthMiddleware creates a middleware for JWT authentication.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			utils.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1], cfg.JWTSecret)
		if err != nil {
			utils.Unauthorized(c, "Invalid token: "+err.Error())
			c.Abort()
			return
		}
		if claims.UserID == "" {
			utils.Unauthorized(c, "Invalid token: missing user")
			c.Abort()
			return
		}

		// Set user information in context for downstream handlers
		c.Set(userIDKey, claims.UserID)

		c.Next()
	}
}

// GetUserIDFromContext returns the authenticated user id set by AuthMiddleware.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get(userIDKey)
	if !exists {
		return "", false
	}
	idStr, ok := userID.(string)
	return idStr, ok && idStr != ""
}

// SetUserID stores an authenticated user id on the context.
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}
