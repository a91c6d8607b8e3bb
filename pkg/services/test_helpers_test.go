package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sovd/cmdexec/ent"
	"github.com/stretchr/testify/require"
)

// seedUser inserts a minimal User row, returning its ID.
func seedUser(t *testing.T, client *ent.Client) string {
	t.Helper()
	id := uuid.New().String()
	_, err := client.User.Create().
		SetID(id).
		SetUsername("user-" + id[:8]).
		Save(context.Background())
	require.NoError(t, err)
	return id
}

// seedVehicle inserts a Vehicle row with the given connection status,
// returning its ID.
func seedVehicle(t *testing.T, client *ent.Client, connectionStatus string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := client.Vehicle.Create().
		SetID(id).
		SetVin("1HGCM82633A" + id[:6]).
		SetMake("Honda").
		SetModel("Accord").
		SetYear(2020).
		SetConnectionStatus(connectionStatus).
		Save(context.Background())
	require.NoError(t, err)
	return id
}

// seedCommand inserts a pending Command row owned by userID against
// vehicleID, returning its ID.
func seedCommand(t *testing.T, client *ent.Client, userID, vehicleID string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := client.Command.Create().
		SetID(id).
		SetUserID(userID).
		SetVehicleID(vehicleID).
		SetCommandName("ReadDTC").
		SetCommandParams(map[string]any{"ecuAddress": "0x7E0"}).
		Save(context.Background())
	require.NoError(t, err)
	return id
}
