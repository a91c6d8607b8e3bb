package services

import (
	"context"
	"log/slog"

	"github.com/sovd/cmdexec/ent"
)

// AuditService appends immutable AuditEvent rows. LogAudit is
// fire-and-forget from the caller's perspective: a write failure is logged
// here and never returned, so a flaky audit insert can't block the
// operation it is describing.
type AuditService struct {
	client *ent.Client
}

// NewAuditService creates a new AuditService.
func NewAuditService(client *ent.Client) *AuditService {
	return &AuditService{client: client}
}

// LogAudit records one audit entry. actorUserID and entityID may be empty —
// nullable foreign keys preserve history after the referent is deleted.
func (s *AuditService) LogAudit(ctx context.Context, actorUserID, action, entityType, entityID string, details map[string]any) {
	create := s.client.AuditEvent.Create().
		SetAction(action).
		SetEntityType(entityType)

	if actorUserID != "" {
		create = create.SetActorUserID(actorUserID)
	}
	if entityID != "" {
		create = create.SetEntityID(entityID)
	}
	if details != nil {
		create = create.SetDetails(details)
	}

	if _, err := create.Save(ctx); err != nil {
		slog.Error("Failed to write audit event",
			"action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}
