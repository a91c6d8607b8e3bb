package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Response holds the schema definition for one streaming response chunk
// belonging to a Command. Rows are append-only and cascade-delete with
// their parent command.
type Response struct {
	ent.Schema
}

// Fields of the Response.
func (Response) Fields() []ent.Field {
	return []ent.Field{
		field.Int("id").
			StorageKey("response_id").
			Immutable(),
		field.String("command_id").
			Immutable(),
		field.JSON("response_payload", map[string]any{}).
			Immutable(),
		field.Int("sequence_number").
			Immutable().
			Positive().
			Comment("Unique per command, strictly increasing in insertion order"),
		field.Bool("is_final").
			Immutable().
			Default(false),
		field.Time("received_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Response.
func (Response) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("command", Command.Type).
			Ref("responses").
			Field("command_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Response.
func (Response) Indexes() []ent.Index {
	return []ent.Index{
		// Enforces "exactly one response per (command_id, sequence_number)" —
		// this is what insert_response's SequenceConflict check relies on.
		index.Fields("command_id", "sequence_number").Unique(),
	}
}
