package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sovd/cmdexec/ent/command"
	"github.com/sovd/cmdexec/pkg/authn"
	"github.com/sovd/cmdexec/pkg/connector"
	"github.com/sovd/cmdexec/pkg/services"
	"github.com/sovd/cmdexec/pkg/sovd"
)

// submitCommand implements POST /commands: resolve identity, look up the
// target vehicle, validate parameters, reject disconnected vehicles,
// persist as pending, dispatch the background execution task, and respond
// 202 without waiting on it.
func (s *Server) submitCommand(c *gin.Context) {
	var req submitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VAL_003", err.Error())
		return
	}

	userID := authn.UserID(c)

	v, err := s.vehicles.GetVehicle(c.Request.Context(), req.VehicleID)
	if err != nil {
		mapServiceError(c, err, "VAL_001")
		return
	}

	if err := sovd.Validate(req.CommandName, req.CommandParams); err != nil {
		mapServiceError(c, err, "")
		return
	}

	if !services.IsConnected(v) {
		writeError(c, http.StatusConflict, "VEH_001", "vehicle is not connected")
		return
	}

	cmd, err := s.commands.InsertCommand(c.Request.Context(), userID, req.VehicleID, req.CommandName, req.CommandParams)
	if err != nil {
		mapServiceError(c, err, "VAL_001")
		return
	}

	connectorType := connector.ResolveConnectorType(v.Metadata)
	s.dispatcher.Dispatch(cmd, connectorType)

	c.JSON(http.StatusAccepted, newSubmitCommandResponse(cmd))
}

// getCommand implements GET /commands/{id}. Engineers may only read their
// own commands; admins read all.
func (s *Server) getCommand(c *gin.Context) {
	cmd, err := s.commands.GetCommand(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err, "VAL_005")
		return
	}

	if !authorizedForCommand(c, cmd.UserID) {
		writeError(c, http.StatusForbidden, "AUTH_002", "not authorized to view this command")
		return
	}

	c.JSON(http.StatusOK, newCommandView(cmd))
}

// listCommandResponses implements GET /commands/{id}/responses.
func (s *Server) listCommandResponses(c *gin.Context) {
	cmd, err := s.commands.GetCommand(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err, "VAL_005")
		return
	}

	if !authorizedForCommand(c, cmd.UserID) {
		writeError(c, http.StatusForbidden, "AUTH_002", "not authorized to view this command")
		return
	}

	responses, err := s.responses.ListResponses(c.Request.Context(), cmd.ID)
	if err != nil {
		mapServiceError(c, err, "VAL_005")
		return
	}

	views := make([]responseView, 0, len(responses))
	for _, r := range responses {
		views = append(views, newResponseView(r))
	}
	c.JSON(http.StatusOK, gin.H{"responses": views})
}

var allowedListFilterKeys = map[string]bool{
	"vehicle_id": true,
	"status":     true,
	"user_id":    true,
	"start_date": true,
	"end_date":   true,
	"limit":      true,
	"offset":     true,
}

// listCommands implements GET /commands with the filter grammar: unknown
// keys are a 400, a limit outside [1,100] or a negative offset is a 400,
// and user_id is silently ignored unless the caller is an admin.
func (s *Server) listCommands(c *gin.Context) {
	for key := range c.Request.URL.Query() {
		if !allowedListFilterKeys[key] {
			writeError(c, http.StatusBadRequest, "VAL_003", "unknown filter key: "+key)
			return
		}
	}

	filter := services.CommandFilter{
		VehicleID: c.Query("vehicle_id"),
		Limit:     20,
	}

	if status := c.Query("status"); status != "" {
		filter.Status = command.Status(status)
	}

	if authn.IsAdmin(c) {
		filter.OwnerID = c.Query("user_id")
	} else {
		filter.OwnerID = authn.UserID(c)
	}

	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VAL_004", "start_date must be RFC3339")
			return
		}
		filter.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VAL_004", "end_date must be RFC3339")
			return
		}
		filter.EndDate = &t
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			writeError(c, http.StatusBadRequest, "VAL_004", "limit must be an integer in [1,100]")
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(c, http.StatusBadRequest, "VAL_004", "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	cmds, total, err := s.commands.ListCommands(c.Request.Context(), filter)
	if err != nil {
		mapServiceError(c, err, "")
		return
	}

	views := make([]commandView, 0, len(cmds))
	for _, cmd := range cmds {
		views = append(views, newCommandView(cmd))
	}

	c.JSON(http.StatusOK, commandListResponse{
		Commands: views,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

func authorizedForCommand(c *gin.Context, ownerUserID string) bool {
	return authn.IsAdmin(c) || authn.UserID(c) == ownerUserID
}
