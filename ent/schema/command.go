package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Command holds the schema definition for a single diagnostic command
// submitted against one vehicle. Rows are created by the orchestrator on
// submission and mutated by the connector/orchestrator during execution;
// they are never deleted by core logic.
type Command struct {
	ent.Schema
}

// Fields of the Command.
func (Command) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("command_id").
			Unique().
			Immutable(),
		field.String("user_id").
			Immutable(),
		field.String("vehicle_id").
			Immutable(),
		field.String("command_name").
			Immutable(),
		field.JSON("command_params", map[string]any{}).
			Immutable().
			Comment("Whatever the SOVD validator accepted"),
		field.Enum("status").
			Values("pending", "in_progress", "completed", "failed").
			Default("pending"),
		field.String("error_message").
			Optional().
			Nillable().
			Comment("Set iff status = failed"),
		field.Time("submitted_at").
			Default(time.Now).
			Immutable(),
		field.Time("completed_at").
			Optional().
			Nillable().
			Comment("Set iff status is completed or failed"),
	}
}

// Edges of the Command.
func (Command) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("owner", User.Type).
			Ref("commands").
			Field("user_id").
			Unique().
			Required().
			Immutable(),
		edge.From("target", Vehicle.Type).
			Ref("commands").
			Field("vehicle_id").
			Unique().
			Required().
			Immutable(),
		edge.To("responses", Response.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Command.
func (Command) Indexes() []ent.Index {
	return []ent.Index{
		// Backs list_commands' total order on (submitted_at desc, command_id desc).
		index.Fields("submitted_at", "id"),
		index.Fields("user_id"),
		index.Fields("vehicle_id"),
		index.Fields("status"),
	}
}
