package services

import (
	"context"
	"fmt"

	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/ent/response"
)

// ResponseService is the Persistence Gateway's response surface: append-only
// chunk storage for a command's streamed output.
type ResponseService struct {
	client *ent.Client
}

// NewResponseService creates a new ResponseService.
func NewResponseService(client *ent.Client) *ResponseService {
	return &ResponseService{client: client}
}

// InsertResponse appends a response chunk to commandID. Returns
// ErrNotFound if the command doesn't exist, or ErrSequenceConflict if
// (command_id, sequence_number) was already recorded — the unique index
// on the Response schema is what actually enforces this; the constraint
// violation is translated here.
func (s *ResponseService) InsertResponse(ctx context.Context, commandID string, payload map[string]any, sequenceNumber int, isFinal bool) (*ent.Response, error) {
	resp, err := s.client.Response.Create().
		SetCommandID(commandID).
		SetResponsePayload(payload).
		SetSequenceNumber(sequenceNumber).
		SetIsFinal(isFinal).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			exists, checkErr := s.client.Response.Query().
				Where(response.CommandIDEQ(commandID), response.SequenceNumberEQ(sequenceNumber)).
				Exist(ctx)
			if checkErr == nil && exists {
				return nil, fmt.Errorf("%w: command %s sequence %d", ErrSequenceConflict, commandID, sequenceNumber)
			}
			return nil, fmt.Errorf("%w: command %s", ErrNotFound, commandID)
		}
		return nil, fmt.Errorf("insert response: %w", err)
	}
	return resp, nil
}

// ListResponses returns commandID's responses ordered by sequence_number
// ascending — a finite, non-restartable snapshot.
func (s *ResponseService) ListResponses(ctx context.Context, commandID string) ([]*ent.Response, error) {
	responses, err := s.client.Response.Query().
		Where(response.CommandIDEQ(commandID)).
		Order(ent.Asc(response.FieldSequenceNumber)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return responses, nil
}
