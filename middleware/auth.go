package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/config"
)

const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
)

// BearerToken extracts the token from "Authorization: Bearer ...".
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AbortAuth answers a failed Verify: 403 for banned accounts, 401 for
// everything else.
func AbortAuth(c *gin.Context, err error) {
	status, code := http.StatusUnauthorized, "unauthorized"
	switch {
	case errors.Is(err, ErrBanned):
		status, code = http.StatusForbidden, "banned"
	case errors.Is(err, ErrMissingToken):
		code = "missing_token"
	case errors.Is(err, ErrInvalidToken):
		code = "invalid_token"
	case errors.Is(err, ErrSessionExpired):
		code = "session_expired"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

// Auth requires a live session and stores the caller's id and username
// on the context.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return RequireSession(NewSessions(sec, c))
}

// RequireSession is Auth over an existing Sessions.
func RequireSession(s *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.Verify(c.Request.Context(), BearerToken(c))
		if err != nil {
			AbortAuth(c, err)
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetUsername retrieves the authenticated username from the Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
