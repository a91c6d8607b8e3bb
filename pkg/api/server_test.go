package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/pkg/authn"
	"github.com/sovd/cmdexec/pkg/connector"
	"github.com/sovd/cmdexec/pkg/events"
	"github.com/sovd/cmdexec/pkg/queue"
	"github.com/sovd/cmdexec/pkg/ratelimit"
	"github.com/sovd/cmdexec/pkg/services"
	testdb "github.com/sovd/cmdexec/test/database"
	"github.com/stretchr/testify/require"
)

type apiTestEnv struct {
	client   *ent.Client
	server   *Server
	verifier *authn.Verifier
}

func setupAPITest(t *testing.T) *apiTestEnv {
	t.Helper()
	dbClient := testdb.NewTestClient(t)

	vehicles := services.NewVehicleService(dbClient.Client)
	commands := services.NewCommandService(dbClient.Client)
	responses := services.NewResponseService(dbClient.Client)
	audit := services.NewAuditService(dbClient.Client)
	publisher := events.NewEventPublisher(dbClient.DB())
	eventService := services.NewEventService(dbClient.Client)

	registry := connector.NewDefaultRegistry()
	dispatcher := queue.NewDispatcher(commands, responses, audit, publisher, registry, 5*time.Second)

	connections := events.NewConnectionManager(events.NewEventServiceAdapter(eventService), 5*time.Second)
	verifier := authn.NewVerifier("test-secret")
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000, MaxTrackedKeys: 1000})
	t.Cleanup(limiter.Stop)

	server := NewServer(vehicles, commands, responses, dispatcher, connections, verifier, limiter)

	return &apiTestEnv{client: dbClient.Client, server: server, verifier: verifier}
}

func (env *apiTestEnv) seedVehicle(t *testing.T, connectionStatus string, metadata map[string]any) string {
	t.Helper()
	if metadata == nil {
		metadata = map[string]any{}
	}
	id := uuid.New().String()
	_, err := env.client.Vehicle.Create().
		SetID(id).
		SetVin("1HGCM82633A" + id[:6]).
		SetMake("Honda").
		SetModel("Accord").
		SetYear(2020).
		SetConnectionStatus(connectionStatus).
		SetMetadata(metadata).
		Save(context.Background())
	require.NoError(t, err)
	return id
}

func (env *apiTestEnv) seedUser(t *testing.T) string {
	t.Helper()
	id := uuid.New().String()
	_, err := env.client.User.Create().SetID(id).SetUsername("user-" + id[:8]).Save(context.Background())
	require.NoError(t, err)
	return id
}

func (env *apiTestEnv) token(t *testing.T, userID string, role authn.Role) string {
	t.Helper()
	tok, err := env.verifier.IssueToken(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func newRequest(method, path, token string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}
