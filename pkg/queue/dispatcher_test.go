package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/ent/command"
	"github.com/sovd/cmdexec/pkg/connector"
	"github.com/sovd/cmdexec/pkg/events"
	"github.com/sovd/cmdexec/pkg/services"
	testdb "github.com/sovd/cmdexec/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dispatcherTestEnv wires a Dispatcher against a real database, exercising
// the exact transactional read-after-write path production code uses.
type dispatcherTestEnv struct {
	client     *ent.Client
	commands   *services.CommandService
	dispatcher *Dispatcher
}

func setupDispatcherTest(t *testing.T, chunkDelay time.Duration, timeout time.Duration) *dispatcherTestEnv {
	t.Helper()
	dbClient := testdb.NewTestClient(t)

	commands := services.NewCommandService(dbClient.Client)
	responses := services.NewResponseService(dbClient.Client)
	audit := services.NewAuditService(dbClient.Client)
	publisher := events.NewEventPublisher(dbClient.DB())

	registry := connector.NewRegistry()
	registry.Register("mock", func() connector.Connector {
		return &connector.MockConnector{ChunkDelay: chunkDelay}
	})

	return &dispatcherTestEnv{
		client:     dbClient.Client,
		commands:   commands,
		dispatcher: NewDispatcher(commands, responses, audit, publisher, registry, timeout),
	}
}

func seedPendingCommand(t *testing.T, client *ent.Client, commandName string, params map[string]any) *ent.Command {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New().String()
	vehicleID := uuid.New().String()

	_, err := client.User.Create().SetID(userID).SetUsername("user-" + userID[:8]).Save(ctx)
	require.NoError(t, err)
	_, err = client.Vehicle.Create().
		SetID(vehicleID).
		SetVin("1HGCM82633A" + vehicleID[:6]).
		SetMake("Honda").
		SetModel("Accord").
		SetYear(2020).
		SetConnectionStatus("connected").
		Save(ctx)
	require.NoError(t, err)

	cmd, err := client.Command.Create().
		SetID(uuid.New().String()).
		SetUserID(userID).
		SetVehicleID(vehicleID).
		SetCommandName(commandName).
		SetCommandParams(params).
		Save(ctx)
	require.NoError(t, err)
	return cmd
}

func waitForTerminal(t *testing.T, commands *services.CommandService, commandID string) *ent.Command {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cmd, err := commands.GetCommand(context.Background(), commandID)
		require.NoError(t, err)
		if cmd.Status == command.StatusCompleted || cmd.Status == command.StatusFailed {
			return cmd
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("command %s never reached a terminal status", commandID)
	return nil
}

func TestDispatcher_SuccessfulSingleChunkCommand(t *testing.T) {
	env := setupDispatcherTest(t, time.Millisecond, 5*time.Second)
	cmd := seedPendingCommand(t, env.client, "ReadDTC", map[string]any{"ecuAddress": "0x7E0"})

	env.dispatcher.Dispatch(cmd, "mock")

	final := waitForTerminal(t, env.commands, cmd.ID)
	assert.Equal(t, command.StatusCompleted, final.Status)
	assert.Nil(t, final.ErrorMessage)
	require.NotNil(t, final.CompletedAt)

	responses, err := env.client.Response.Query().All(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, 1, responses[0].SequenceNumber)
	assert.True(t, responses[0].IsFinal)
}

func TestDispatcher_MultiChunkCommandOrdersSequenceNumbers(t *testing.T) {
	env := setupDispatcherTest(t, time.Millisecond, 5*time.Second)
	cmd := seedPendingCommand(t, env.client, "ClearDTC", map[string]any{"ecuAddress": "0x7E0"})

	env.dispatcher.Dispatch(cmd, "mock")
	waitForTerminal(t, env.commands, cmd.ID)

	responses, err := env.client.Response.Query().All(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, 1, responses[0].SequenceNumber)
	assert.False(t, responses[0].IsFinal)
	assert.Equal(t, 2, responses[1].SequenceNumber)
	assert.True(t, responses[1].IsFinal)
}

func TestDispatcher_UnknownConnectorTypeFailsCommand(t *testing.T) {
	env := setupDispatcherTest(t, time.Millisecond, 5*time.Second)
	cmd := seedPendingCommand(t, env.client, "ReadDTC", map[string]any{"ecuAddress": "0x7E0"})

	env.dispatcher.Dispatch(cmd, "unregistered-type")

	final := waitForTerminal(t, env.commands, cmd.ID)
	assert.Equal(t, command.StatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
}

func TestDispatcher_ConnectorTimeoutFailsCommand(t *testing.T) {
	env := setupDispatcherTest(t, 200*time.Millisecond, 20*time.Millisecond)
	cmd := seedPendingCommand(t, env.client, "ClearDTC", map[string]any{"ecuAddress": "0x7E0"})

	env.dispatcher.Dispatch(cmd, "mock")

	final := waitForTerminal(t, env.commands, cmd.ID)
	assert.Equal(t, command.StatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)

	responses, err := env.client.Response.Query().All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, responses, "a chunk beyond the execution deadline must never be persisted")
}

func TestDispatcher_DuplicateDispatchSuppressed(t *testing.T) {
	env := setupDispatcherTest(t, 50*time.Millisecond, 5*time.Second)
	cmd := seedPendingCommand(t, env.client, "ReadDTC", map[string]any{"ecuAddress": "0x7E0"})

	env.dispatcher.Dispatch(cmd, "mock")
	assert.Equal(t, 1, env.dispatcher.ActiveCount())

	// A second dispatch for the same command, while the first is still
	// running, must not spawn a second execution task.
	env.dispatcher.Dispatch(cmd, "mock")

	waitForTerminal(t, env.commands, cmd.ID)

	responses, err := env.client.Response.Query().All(context.Background())
	require.NoError(t, err)
	assert.Len(t, responses, 1, "duplicate dispatch must not double-execute the command")
}
