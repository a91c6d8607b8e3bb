package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// AuditEvent holds the schema definition for an immutable log entry tying
// (actor, entity, action, time, details) together. Foreign keys are nullable
// strings rather than edges so history survives deletion of the referent.
type AuditEvent struct {
	ent.Schema
}

// Fields of the AuditEvent.
func (AuditEvent) Fields() []ent.Field {
	return []ent.Field{
		field.Int("id").
			StorageKey("audit_event_id").
			Immutable(),
		field.String("actor_user_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("action").
			Immutable().
			Comment("e.g. 'command.submitted', 'command.completed', 'command.failed'"),
		field.String("entity_type").
			Immutable().
			Comment("'command', 'vehicle', ..."),
		field.String("entity_id").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("details", map[string]any{}).
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}
