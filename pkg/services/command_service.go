package services

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/ent/command"
)

// CommandFilter narrows ListCommands. Zero values mean "no filter" for that
// field. The REST handler rejects a Limit outside [1,100] or a negative
// Offset with a 400; ListCommands itself treats Limit <= 0 as 20 and a
// negative Offset as 0.
type CommandFilter struct {
	OwnerID   string
	VehicleID string
	Status    command.Status
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// CommandService is the Persistence Gateway's command surface (C1's
// command-related operations, exposed directly rather than behind a
// network boundary since this is a single-process core).
type CommandService struct {
	client *ent.Client
}

// NewCommandService creates a new CommandService.
func NewCommandService(client *ent.Client) *CommandService {
	return &CommandService{client: client}
}

// InsertCommand creates a pending command row. It only checks that the
// target vehicle exists — connection_status policy belongs to the caller
// (the submission handler), not to this operation.
func (s *CommandService) InsertCommand(ctx context.Context, userID, vehicleID, commandName string, params map[string]any) (*ent.Command, error) {
	cmd, err := s.client.Command.Create().
		SetUserID(userID).
		SetVehicleID(vehicleID).
		SetCommandName(commandName).
		SetCommandParams(params).
		SetStatus(command.StatusPending).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) || ent.IsConstraintError(err) {
			return nil, fmt.Errorf("%w: vehicle %s", ErrNotFound, vehicleID)
		}
		return nil, fmt.Errorf("insert command: %w", err)
	}
	return cmd, nil
}

// legalTransitions enumerates the command lifecycle's allowed status
// transitions. Anything not listed here — including every transition out
// of a terminal state (completed, failed) — is illegal.
var legalTransitions = map[command.Status]map[command.Status]bool{
	command.StatusPending: {
		command.StatusInProgress: true,
		command.StatusFailed:     true,
	},
	command.StatusInProgress: {
		command.StatusInProgress: true, // idempotent: single writer may retry
		command.StatusCompleted:  true,
		command.StatusFailed:     true,
	},
}

func isLegalTransition(from, to command.Status) bool {
	return legalTransitions[from][to]
}

// UpdateCommandStatus transitions a command to newStatus under a row lock,
// enforcing the state machine. errorMessage is set iff newStatus is
// "failed"; completedAt is set iff newStatus is a terminal state.
func (s *CommandService) UpdateCommandStatus(ctx context.Context, commandID string, newStatus command.Status, errorMessage string) (*ent.Command, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cmd, err := tx.Command.Query().
		Where(command.IDEQ(commandID)).
		ForUpdate(sql.WithLockAction(sql.NoWait)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("%w: command %s", ErrNotFound, commandID)
		}
		return nil, fmt.Errorf("lock command: %w", err)
	}

	if !isLegalTransition(cmd.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cmd.Status, newStatus)
	}

	update := tx.Command.UpdateOneID(commandID).SetStatus(newStatus)
	if newStatus == command.StatusFailed {
		update = update.SetErrorMessage(errorMessage)
	}
	if newStatus == command.StatusCompleted || newStatus == command.StatusFailed {
		update = update.SetCompletedAt(time.Now())
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("update command status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	return updated, nil
}

// GetCommand retrieves a command by ID, or ErrNotFound.
func (s *CommandService) GetCommand(ctx context.Context, commandID string) (*ent.Command, error) {
	cmd, err := s.client.Command.Query().
		Where(command.IDEQ(commandID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("%w: command %s", ErrNotFound, commandID)
		}
		return nil, fmt.Errorf("get command: %w", err)
	}
	return cmd, nil
}

// ListCommands returns a page of commands matching filter, ordered
// (submitted_at desc, command_id desc), plus the total count matching the
// filter (ignoring pagination) for the caller to build a paginated response.
func (s *CommandService) ListCommands(ctx context.Context, filter CommandFilter) ([]*ent.Command, int, error) {
	query := s.client.Command.Query()

	if filter.OwnerID != "" {
		query = query.Where(command.UserIDEQ(filter.OwnerID))
	}
	if filter.VehicleID != "" {
		query = query.Where(command.VehicleIDEQ(filter.VehicleID))
	}
	if filter.Status != "" {
		query = query.Where(command.StatusEQ(filter.Status))
	}
	if filter.StartDate != nil {
		query = query.Where(command.SubmittedAtGTE(*filter.StartDate))
	}
	if filter.EndDate != nil {
		query = query.Where(command.SubmittedAtLTE(*filter.EndDate))
	}

	total, err := query.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count commands: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	cmds, err := query.
		Order(ent.Desc(command.FieldSubmittedAt), ent.Desc(command.FieldID)).
		Limit(limit).
		Offset(offset).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list commands: %w", err)
	}

	return cmds, total, nil
}
