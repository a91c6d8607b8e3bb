package services

import (
	"context"
	"testing"
	"time"

	"github.com/sovd/cmdexec/ent/command"
	testdb "github.com/sovd/cmdexec/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandService_InsertCommand(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewCommandService(client.Client)
	ctx := context.Background()

	t.Run("creates a pending command", func(t *testing.T) {
		userID := seedUser(t, client.Client)
		vehicleID := seedVehicle(t, client.Client, "connected")

		cmd, err := service.InsertCommand(ctx, userID, vehicleID, "ReadDTC", map[string]any{"ecuAddress": "0x7E0"})
		require.NoError(t, err)
		assert.Equal(t, userID, cmd.UserID)
		assert.Equal(t, vehicleID, cmd.VehicleID)
		assert.Equal(t, "ReadDTC", cmd.CommandName)
		assert.Equal(t, command.StatusPending, cmd.Status)
		assert.NotZero(t, cmd.SubmittedAt)
		assert.Nil(t, cmd.CompletedAt)
	})

	t.Run("returns ErrNotFound for unknown vehicle", func(t *testing.T) {
		userID := seedUser(t, client.Client)

		_, err := service.InsertCommand(ctx, userID, "does-not-exist", "ReadDTC", map[string]any{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCommandService_UpdateCommandStatus(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewCommandService(client.Client)
	ctx := context.Background()

	setup := func(t *testing.T) string {
		userID := seedUser(t, client.Client)
		vehicleID := seedVehicle(t, client.Client, "connected")
		return seedCommand(t, client.Client, userID, vehicleID)
	}

	t.Run("pending to in_progress is legal", func(t *testing.T) {
		commandID := setup(t)

		cmd, err := service.UpdateCommandStatus(ctx, commandID, command.StatusInProgress, "")
		require.NoError(t, err)
		assert.Equal(t, command.StatusInProgress, cmd.Status)
		assert.Nil(t, cmd.CompletedAt)
	})

	t.Run("in_progress to in_progress is idempotent", func(t *testing.T) {
		commandID := setup(t)
		_, err := service.UpdateCommandStatus(ctx, commandID, command.StatusInProgress, "")
		require.NoError(t, err)

		cmd, err := service.UpdateCommandStatus(ctx, commandID, command.StatusInProgress, "")
		require.NoError(t, err)
		assert.Equal(t, command.StatusInProgress, cmd.Status)
	})

	t.Run("in_progress to completed sets completed_at", func(t *testing.T) {
		commandID := setup(t)
		_, err := service.UpdateCommandStatus(ctx, commandID, command.StatusInProgress, "")
		require.NoError(t, err)

		before := time.Now()
		cmd, err := service.UpdateCommandStatus(ctx, commandID, command.StatusCompleted, "")
		require.NoError(t, err)
		assert.Equal(t, command.StatusCompleted, cmd.Status)
		require.NotNil(t, cmd.CompletedAt)
		assert.True(t, cmd.CompletedAt.After(before) || cmd.CompletedAt.Equal(before))
		assert.Nil(t, cmd.ErrorMessage)
	})

	t.Run("pending to failed sets error_message and completed_at", func(t *testing.T) {
		commandID := setup(t)

		cmd, err := service.UpdateCommandStatus(ctx, commandID, command.StatusFailed, "connector timed out")
		require.NoError(t, err)
		assert.Equal(t, command.StatusFailed, cmd.Status)
		require.NotNil(t, cmd.ErrorMessage)
		assert.Equal(t, "connector timed out", *cmd.ErrorMessage)
		assert.NotNil(t, cmd.CompletedAt)
	})

	t.Run("completed to anything is illegal", func(t *testing.T) {
		commandID := setup(t)
		_, err := service.UpdateCommandStatus(ctx, commandID, command.StatusInProgress, "")
		require.NoError(t, err)
		_, err = service.UpdateCommandStatus(ctx, commandID, command.StatusCompleted, "")
		require.NoError(t, err)

		_, err = service.UpdateCommandStatus(ctx, commandID, command.StatusInProgress, "")
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("pending to completed is illegal", func(t *testing.T) {
		commandID := setup(t)

		_, err := service.UpdateCommandStatus(ctx, commandID, command.StatusCompleted, "")
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("returns ErrNotFound for unknown command", func(t *testing.T) {
		_, err := service.UpdateCommandStatus(ctx, "does-not-exist", command.StatusInProgress, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCommandService_GetCommand(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewCommandService(client.Client)
	ctx := context.Background()

	userID := seedUser(t, client.Client)
	vehicleID := seedVehicle(t, client.Client, "connected")
	commandID := seedCommand(t, client.Client, userID, vehicleID)

	t.Run("returns existing command", func(t *testing.T) {
		cmd, err := service.GetCommand(ctx, commandID)
		require.NoError(t, err)
		assert.Equal(t, commandID, cmd.ID)
	})

	t.Run("returns ErrNotFound for unknown id", func(t *testing.T) {
		_, err := service.GetCommand(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCommandService_ListCommands(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewCommandService(client.Client)
	ctx := context.Background()

	userA := seedUser(t, client.Client)
	userB := seedUser(t, client.Client)
	vehicleID := seedVehicle(t, client.Client, "connected")

	var userACommandIDs []string
	for i := 0; i < 3; i++ {
		userACommandIDs = append(userACommandIDs, seedCommand(t, client.Client, userA, vehicleID))
	}
	seedCommand(t, client.Client, userB, vehicleID)

	t.Run("filters by owner", func(t *testing.T) {
		cmds, total, err := service.ListCommands(ctx, CommandFilter{OwnerID: userA})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, cmds, 3)
		for _, cmd := range cmds {
			assert.Equal(t, userA, cmd.UserID)
		}
	})

	t.Run("paginates with limit and offset", func(t *testing.T) {
		cmds, total, err := service.ListCommands(ctx, CommandFilter{OwnerID: userA, Limit: 2, Offset: 0})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, cmds, 2)

		rest, total, err := service.ListCommands(ctx, CommandFilter{OwnerID: userA, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, rest, 1)
	})

	t.Run("filters by status", func(t *testing.T) {
		_, err := service.UpdateCommandStatus(ctx, userACommandIDs[0], command.StatusInProgress, "")
		require.NoError(t, err)

		cmds, total, err := service.ListCommands(ctx, CommandFilter{OwnerID: userA, Status: command.StatusInProgress})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, cmds, 1)
		assert.Equal(t, userACommandIDs[0], cmds[0].ID)
	})

	t.Run("defaults limit when unset", func(t *testing.T) {
		cmds, _, err := service.ListCommands(ctx, CommandFilter{OwnerID: userA})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(cmds), 20)
	})
}
