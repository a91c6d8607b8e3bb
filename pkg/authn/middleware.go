package authn

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// contextUserIDKey and contextRoleKey are the gin context keys Middleware
// sets; handlers read them back via UserID/UserRole.
const (
	contextUserIDKey = "authn.user_id"
	contextRoleKey   = "authn.role"
)

// Middleware returns a gin.HandlerFunc that verifies the Authorization
// bearer token on every request, aborting with 401 on failure. On success
// it attaches the caller's identity to the request context for downstream
// handlers.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		userID, role, err := v.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "AUTH_001",
					"message": "missing or invalid bearer token",
				},
			})
			return
		}
		c.Set(contextUserIDKey, userID)
		c.Set(contextRoleKey, role)
		c.Next()
	}
}

// bearerToken strips the "Bearer " prefix from an Authorization header
// value, tolerating its absence.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return header
}

// UserID returns the authenticated caller's user_id, set by Middleware.
func UserID(c *gin.Context) string {
	v, _ := c.Get(contextUserIDKey)
	s, _ := v.(string)
	return s
}

// UserRole returns the authenticated caller's role, set by Middleware.
func UserRole(c *gin.Context) Role {
	v, _ := c.Get(contextRoleKey)
	r, _ := v.(Role)
	return r
}

// IsAdmin reports whether the authenticated caller has the admin role.
func IsAdmin(c *gin.Context) bool {
	return UserRole(c) == RoleAdmin
}
