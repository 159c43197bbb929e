package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dogdollars/loyalty/internal/auth"
	"github.com/dogdollars/loyalty/pkg/response"
)

const (
	// ContextSubject is the key for the caller's token subject in gin context.
	ContextSubject = "subject"
	// ContextRole is the key for the caller's role in gin context.
	ContextRole = "role"
)

// JWT returns a middleware that validates the bearer token and sets the caller in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// Anonymous grants every request the admin role. Used when authentication is disabled.
func Anonymous() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextSubject, "anonymous")
		c.Set(ContextRole, auth.RoleAdmin)
		c.Next()
	}
}
