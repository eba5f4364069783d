package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docsift/docsift/internal/auth"
	"github.com/docsift/docsift/internal/common"
	"github.com/docsift/docsift/internal/users"
)

const (
	UserIDKey   = "userID"
	UserRoleKey = "userRole"
)

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(UserRoleKey, claims.Role)
		c.Next()
	}
}

// OptionalAuth attaches the user identity when a valid token is present and
// lets anonymous requests through untouched.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := auth.ParseJWT(token, secret); err == nil {
				c.Set(UserIDKey, claims.UserID)
				c.Set(UserRoleKey, claims.Role)
			}
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(UserRoleKey)
		if role != users.RoleAdmin {
			common.Fail(c, http.StatusForbidden, 40301, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
