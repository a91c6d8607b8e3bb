package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// health implements GET /health. It reports liveness plus the number of
// commands currently executing on this instance — useful during rollouts
// to see an instance drain before it's killed.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_commands": s.dispatcher.ActiveCount(),
	})
}
