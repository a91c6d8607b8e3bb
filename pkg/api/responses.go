package api

import (
	"time"

	"github.com/sovd/cmdexec/ent"
)

type submitCommandResponse struct {
	CommandID   string `json:"command_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
	StreamURL   string `json:"stream_url"`
}

func newSubmitCommandResponse(cmd *ent.Command) submitCommandResponse {
	return submitCommandResponse{
		CommandID:   cmd.ID,
		Status:      string(cmd.Status),
		SubmittedAt: cmd.SubmittedAt.Format(time.RFC3339Nano),
		StreamURL:   "/ws/responses/" + cmd.ID,
	}
}

type commandView struct {
	CommandID    string         `json:"command_id"`
	UserID       string         `json:"user_id"`
	VehicleID    string         `json:"vehicle_id"`
	CommandName  string         `json:"command_name"`
	CommandParams map[string]any `json:"command_params"`
	Status       string         `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	SubmittedAt  string         `json:"submitted_at"`
	CompletedAt  *string        `json:"completed_at,omitempty"`
}

func newCommandView(cmd *ent.Command) commandView {
	v := commandView{
		CommandID:     cmd.ID,
		UserID:        cmd.UserID,
		VehicleID:     cmd.VehicleID,
		CommandName:   cmd.CommandName,
		CommandParams: cmd.CommandParams,
		Status:        string(cmd.Status),
		ErrorMessage:  cmd.ErrorMessage,
		SubmittedAt:   cmd.SubmittedAt.Format(time.RFC3339Nano),
	}
	if cmd.CompletedAt != nil {
		s := cmd.CompletedAt.Format(time.RFC3339Nano)
		v.CompletedAt = &s
	}
	return v
}

type commandListResponse struct {
	Commands []commandView `json:"commands"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

type responseView struct {
	ResponseID      int            `json:"response_id"`
	CommandID       string         `json:"command_id"`
	ResponsePayload map[string]any `json:"response_payload"`
	SequenceNumber  int            `json:"sequence_number"`
	IsFinal         bool           `json:"is_final"`
	ReceivedAt      string         `json:"received_at"`
}

func newResponseView(r *ent.Response) responseView {
	return responseView{
		ResponseID:      r.ID,
		CommandID:       r.CommandID,
		ResponsePayload: r.ResponsePayload,
		SequenceNumber:  r.SequenceNumber,
		IsFinal:         r.IsFinal,
		ReceivedAt:      r.ReceivedAt.Format(time.RFC3339Nano),
	}
}
