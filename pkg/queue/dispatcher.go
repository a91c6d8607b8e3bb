// Package queue implements the Command Orchestrator's background execution
// task: the part of C5 that runs after POST /commands has already responded
// 202 to the caller.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/ent/command"
	"github.com/sovd/cmdexec/pkg/connector"
	"github.com/sovd/cmdexec/pkg/events"
	"github.com/sovd/cmdexec/pkg/services"
)

// DefaultTimeout is the connector's hard execution budget.
const DefaultTimeout = 30 * time.Second

// DefaultConnectorType is used when a vehicle declares none.
const DefaultConnectorType = "mock"

// Dispatcher spawns exactly one background execution task per submitted
// command for its entire pending→terminal lifetime. Dispatch is eager: a
// goroutine is spawned directly, rather than pulled from a bounded worker
// pool, since every command gets its own dedicated task.
type Dispatcher struct {
	commands   *services.CommandService
	responses  *services.ResponseService
	audit      *services.AuditService
	publisher  *events.EventPublisher
	connectors *connector.Registry
	registry   CommandRegistry
	timeout    time.Duration
}

// NewDispatcher creates a Dispatcher. timeout <= 0 falls back to DefaultTimeout.
func NewDispatcher(
	commands *services.CommandService,
	responses *services.ResponseService,
	audit *services.AuditService,
	publisher *events.EventPublisher,
	connectors *connector.Registry,
	timeout time.Duration,
) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		commands:   commands,
		responses:  responses,
		audit:      audit,
		publisher:  publisher,
		connectors: connectors,
		registry:   newCommandRegistry(),
		timeout:    timeout,
	}
}

// ActiveCount reports the number of commands currently executing on this
// instance. Exposed for health/diagnostics.
func (d *Dispatcher) ActiveCount() int {
	return d.registry.activeCount()
}

// Dispatch spawns the background execution task for an already-inserted
// pending command. It returns immediately — the caller's 202 response must
// be written without waiting on execution. Duplicate dispatch of a command
// already running on this instance is silently suppressed.
func (d *Dispatcher) Dispatch(cmd *ent.Command, vehicleConnectorType string) {
	connectorType := vehicleConnectorType
	if connectorType == "" {
		connectorType = DefaultConnectorType
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	if !d.registry.RegisterCommand(cmd.ID, cancel) {
		cancel()
		slog.Warn("duplicate dispatch suppressed", "command_id", cmd.ID)
		return
	}

	go d.execute(ctx, cmd, connectorType)
}

// execute runs the background execution algorithm:
//  1. transition to in_progress (best-effort, tolerates already-in_progress)
//  2. drive the connector, persisting and publishing each chunk
//  3. transition to the terminal status and publish it
//  4. log an audit event for the terminal outcome
func (d *Dispatcher) execute(ctx context.Context, cmd *ent.Command, connectorType string) {
	defer d.registry.UnregisterCommand(cmd.ID)

	log := slog.With("command_id", cmd.ID, "vehicle_id", cmd.VehicleID, "command_name", cmd.CommandName)

	if _, err := d.commands.UpdateCommandStatus(ctx, cmd.ID, command.StatusInProgress, ""); err != nil {
		log.Error("failed to mark command in_progress", "error", err)
		d.terminate(ctx, log, cmd.ID, fmt.Sprintf("could not start execution: %v", err))
		return
	}
	d.publishStatus(ctx, cmd.ID, command.StatusInProgress, nil)

	conn, err := d.connectors.Build(connectorType)
	if err != nil {
		log.Error("connector build failed", "connector_type", connectorType, "error", err)
		d.terminate(ctx, log, cmd.ID, err.Error())
		return
	}

	sink := func(payload json.RawMessage, seq int, isFinal bool) error {
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return fmt.Errorf("decode connector chunk %d: %w", seq, err)
		}

		resp, err := d.responses.InsertResponse(ctx, cmd.ID, decoded, seq, isFinal)
		if err != nil {
			return fmt.Errorf("persist chunk %d: %w", seq, err)
		}

		// Publish only after the insert has committed: every event must
		// correspond to an already-committed row.
		if pubErr := d.publisher.PublishResponse(ctx, cmd.ID, events.ResponsePayload{
			Type:            events.EventTypeResponse,
			CommandID:       cmd.ID,
			ResponseID:      resp.ID,
			ResponsePayload: decoded,
			SequenceNumber:  resp.SequenceNumber,
			IsFinal:         resp.IsFinal,
			ReceivedAt:      resp.ReceivedAt.Format(time.RFC3339Nano),
		}); pubErr != nil {
			// Broker publish failures never fail a write.
			log.Error("failed to publish response event", "sequence_number", seq, "error", pubErr)
		}
		return nil
	}

	status, execErr := conn.Execute(ctx, cmd.ID, cmd.VehicleID, cmd.CommandName, cmd.CommandParams, sink)

	if status == connector.StatusCompleted && execErr == nil {
		d.succeed(ctx, log, cmd.ID)
		return
	}

	msg := "connector execution failed"
	if execErr != nil {
		msg = execErr.Error()
	}
	d.terminate(ctx, log, cmd.ID, msg)
}

func (d *Dispatcher) succeed(ctx context.Context, log *slog.Logger, commandID string) {
	updated, err := d.commands.UpdateCommandStatus(ctx, commandID, command.StatusCompleted, "")
	if err != nil {
		log.Error("failed to mark command completed", "error", err)
		d.terminate(context.Background(), log, commandID, fmt.Sprintf("completion update failed: %v", err))
		return
	}
	d.publishStatus(context.Background(), commandID, command.StatusCompleted, updated.CompletedAt)
	d.audit.LogAudit(context.Background(), "", "command.completed", "command", commandID, nil)
}

// terminate transitions commandID to failed and publishes both the status
// and error events. ctx is typically already cancelled/expired by the time
// this runs (timeout or upstream error), so status/audit writes use a fresh
// background context — the command's own execution budget elapsing must
// not prevent its terminal bookkeeping from landing.
func (d *Dispatcher) terminate(ctx context.Context, log *slog.Logger, commandID, errorMessage string) {
	writeCtx := ctx
	if ctx.Err() != nil {
		writeCtx = context.Background()
	}

	updated, err := d.commands.UpdateCommandStatus(writeCtx, commandID, command.StatusFailed, errorMessage)
	if err != nil {
		log.Error("failed to mark command failed", "error", err)
	}

	if pubErr := d.publisher.PublishError(writeCtx, commandID, events.ErrorPayload{
		Type:         events.EventTypeError,
		CommandID:    commandID,
		ErrorMessage: errorMessage,
	}); pubErr != nil {
		log.Error("failed to publish error event", "error", pubErr)
	}

	var completedAt *time.Time
	if updated != nil {
		completedAt = updated.CompletedAt
	}
	d.publishStatus(writeCtx, commandID, command.StatusFailed, completedAt)

	d.audit.LogAudit(writeCtx, "", "command.failed", "command", commandID, map[string]any{"error_message": errorMessage})
}

func (d *Dispatcher) publishStatus(ctx context.Context, commandID string, status command.Status, completedAt *time.Time) {
	payload := events.StatusPayload{
		Type:      events.EventTypeStatus,
		CommandID: commandID,
		Status:    string(status),
	}
	if completedAt != nil {
		payload.CompletedAt = completedAt.Format(time.RFC3339Nano)
	}
	if err := d.publisher.PublishStatus(ctx, commandID, payload); err != nil {
		slog.Error("failed to publish status event", "command_id", commandID, "status", status, "error", err)
	}
}
