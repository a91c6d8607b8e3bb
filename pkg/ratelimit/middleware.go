package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sovd/cmdexec/pkg/authn"
)

// Middleware returns a gin.HandlerFunc enforcing l's rate limit. Requests
// are keyed by authenticated user_id when authn.Middleware has already run,
// falling back to client IP for unauthenticated routes. Admins are exempt.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authn.IsAdmin(c) {
			c.Next()
			return
		}

		key := authn.UserID(c)
		if key == "" {
			key = ClientIP(c.Request)
		}

		result := l.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(result.Remaining, 0)))

		if !result.Allowed {
			retryAfterSeconds := int(result.RetryAfter.Seconds())
			if retryAfterSeconds < 1 {
				retryAfterSeconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_001",
					"message": fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfterSeconds),
				},
			})
			return
		}

		c.Next()
	}
}
