// Package e2e exercises the command execution pipeline end to end: REST
// submission, background execution against the mock connector, and
// WebSocket delivery, all against a real PostgreSQL instance.
package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/pkg/api"
	"github.com/sovd/cmdexec/pkg/authn"
	"github.com/sovd/cmdexec/pkg/connector"
	"github.com/sovd/cmdexec/pkg/events"
	"github.com/sovd/cmdexec/pkg/queue"
	"github.com/sovd/cmdexec/pkg/ratelimit"
	"github.com/sovd/cmdexec/pkg/services"
	testdb "github.com/sovd/cmdexec/test/database"
	"github.com/stretchr/testify/require"
)

// harness wires a full Server against a real database and serves it over
// an httptest.Server, the same collaborators cmd/sovdserver/main.go wires
// in production.
type harness struct {
	client   *ent.Client
	server   *httptest.Server
	verifier *authn.Verifier
}

func newHarness(t *testing.T, chunkDelay time.Duration) *harness {
	t.Helper()
	dbClient := testdb.NewTestClient(t)

	vehicles := services.NewVehicleService(dbClient.Client)
	commands := services.NewCommandService(dbClient.Client)
	responses := services.NewResponseService(dbClient.Client)
	audit := services.NewAuditService(dbClient.Client)
	eventService := services.NewEventService(dbClient.Client)

	publisher := events.NewEventPublisher(dbClient.DB())
	connections := events.NewConnectionManager(events.NewEventServiceAdapter(eventService), 10*time.Second)

	registry := connector.NewRegistry()
	registry.Register("mock", func() connector.Connector {
		return &connector.MockConnector{ChunkDelay: chunkDelay}
	})
	dispatcher := queue.NewDispatcher(commands, responses, audit, publisher, registry, 30*time.Second)

	verifier := authn.NewVerifier("e2e-test-secret")
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000, MaxTrackedKeys: 1000})
	t.Cleanup(limiter.Stop)

	apiServer := api.NewServer(vehicles, commands, responses, dispatcher, connections, verifier, limiter)
	httpServer := httptest.NewServer(apiServer.Router())
	t.Cleanup(httpServer.Close)

	return &harness{client: dbClient.Client, server: httpServer, verifier: verifier}
}

func (h *harness) seedUser(t *testing.T) string {
	t.Helper()
	id := uuid.New().String()
	_, err := h.client.User.Create().SetID(id).SetUsername("user-" + id[:8]).Save(context.Background())
	require.NoError(t, err)
	return id
}

func (h *harness) seedVehicle(t *testing.T, connectionStatus string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := h.client.Vehicle.Create().
		SetID(id).
		SetVin("1HGCM82633A" + id[:6]).
		SetMake("Honda").
		SetModel("Accord").
		SetYear(2021).
		SetConnectionStatus(connectionStatus).
		Save(context.Background())
	require.NoError(t, err)
	return id
}

func (h *harness) token(t *testing.T, userID string, role authn.Role) string {
	t.Helper()
	tok, err := h.verifier.IssueToken(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) wsURL(commandID, token string) string {
	return "ws" + h.server.URL[len("http"):] + "/ws/responses/" + commandID + "?token=" + token
}
