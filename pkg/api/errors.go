package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sovd/cmdexec/pkg/services"
	"github.com/sovd/cmdexec/pkg/sovd"
)

// errorEnvelope is the uniform error body: a stable code, a human
// message, and enough context to correlate a report back to server logs.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
	Path          string `json:"path"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Error: errorBody{
		Code:          code,
		Message:       message,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Path:          c.Request.URL.Path,
	}})
}

// validationCode picks the VAL_* bucket for a *sovd.ValidationError.
// The validator only ever reports "is required" (missing field) or
// "must match ..." (bad format) reasons, plus the one whole-command
// "unknown command" case — that's enough to bucket without the validator
// needing to carry its own code.
func validationCode(err *sovd.ValidationError) string {
	switch {
	case err.Field == "":
		return "VAL_002"
	case strings.Contains(err.Reason, "required"):
		return "VAL_003"
	default:
		return "VAL_004"
	}
}

// mapServiceError translates an error returned by pkg/services or pkg/sovd
// into its HTTP response. notFoundCode lets the caller pick VAL_001
// (vehicle) vs VAL_005 (command) for the same services.ErrNotFound
// sentinel, since the service layer doesn't distinguish the two itself.
// Anything unrecognized is a SYS_001 — an internal error the caller cannot
// act on.
func mapServiceError(c *gin.Context, err error, notFoundCode string) {
	var valErr *sovd.ValidationError
	if errors.As(err, &valErr) {
		writeError(c, http.StatusBadRequest, validationCode(valErr), valErr.Error())
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(c, http.StatusNotFound, notFoundCode, err.Error())
	case errors.Is(err, services.ErrVehicleNotConnected):
		writeError(c, http.StatusConflict, "VEH_001", err.Error())
	case errors.Is(err, services.ErrIllegalTransition), errors.Is(err, services.ErrSequenceConflict):
		writeError(c, http.StatusInternalServerError, "SYS_001", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "SYS_001", "internal error")
	}
}
