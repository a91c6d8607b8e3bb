package services

import (
	"context"
	"testing"

	"github.com/sovd/cmdexec/ent/auditevent"
	testdb "github.com/sovd/cmdexec/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogAudit(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewAuditService(client.Client)
	ctx := context.Background()

	t.Run("writes an entry with actor and entity", func(t *testing.T) {
		userID := seedUser(t, client.Client)

		service.LogAudit(ctx, userID, "command.submit", "command", "cmd-123", map[string]any{"command_name": "ReadDTC"})

		entries, err := client.AuditEvent.Query().
			Where(auditevent.ActionEQ("command.submit")).
			All(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "command", entries[0].EntityType)
		require.NotNil(t, entries[0].ActorUserID)
		assert.Equal(t, userID, *entries[0].ActorUserID)
		require.NotNil(t, entries[0].EntityID)
		assert.Equal(t, "cmd-123", *entries[0].EntityID)
	})

	t.Run("tolerates empty actor and entity", func(t *testing.T) {
		service.LogAudit(ctx, "", "auth.login_failed", "session", "", nil)

		entries, err := client.AuditEvent.Query().
			Where(auditevent.ActionEQ("auth.login_failed")).
			All(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Nil(t, entries[0].ActorUserID)
		assert.Nil(t, entries[0].EntityID)
	})
}
