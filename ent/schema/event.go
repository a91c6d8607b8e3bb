package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the durable pub/sub log backing
// WebSocket catch-up. Every NOTIFY sent on a channel has a corresponding
// row here, written in the same transaction — this is what makes catch-up
// after (re)subscription correct (see pkg/events).
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.Int("id").
			Immutable(),
		field.String("channel").
			Immutable().
			Comment("e.g. response:{command_id}"),
		field.JSON("payload", map[string]any{}).
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("channel", "id"),
	}
}
