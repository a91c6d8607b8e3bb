package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sovd/cmdexec/pkg/authn"
	"github.com/sovd/cmdexec/pkg/events"
)

// streamResponses implements the C6 WebSocket surface: GET
// /ws/responses/{command_id}?token={jwt}. The token is verified here
// rather than through the REST bearer middleware, since browsers cannot
// set an Authorization header on a WebSocket handshake.
func (s *Server) streamResponses(c *gin.Context) {
	commandID := c.Param("id")

	token := c.Query("token")
	if token == "" {
		writeError(c, http.StatusUnauthorized, "AUTH_001", "missing token query parameter")
		return
	}
	userID, role, err := s.authn.VerifyToken(token)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "AUTH_001", "invalid token")
		return
	}

	cmd, err := s.commands.GetCommand(c.Request.Context(), commandID)
	if err != nil {
		mapServiceError(c, err, "VAL_005")
		return
	}

	if role != authn.RoleAdmin && cmd.UserID != userID {
		writeError(c, http.StatusForbidden, "AUTH_002", "not authorized to stream this command")
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{})
	if err != nil {
		return
	}

	s.events.HandleConnection(c.Request.Context(), conn, events.ResponseChannel(cmd.ID))
}
