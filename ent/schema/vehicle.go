package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// Vehicle holds the schema definition for a diagnostic target.
type Vehicle struct {
	ent.Schema
}

// Fields of the Vehicle.
func (Vehicle) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("vehicle_id").
			Unique().
			Immutable(),
		field.String("vin").
			Unique().
			MaxLen(17).
			MinLen(17),
		field.String("make"),
		field.String("model"),
		field.Int("year"),
		field.Enum("connection_status").
			Values("connected", "disconnected", "error").
			Default("disconnected").
			Comment("Only 'connected' vehicles may be targeted by a new command"),
		field.Time("last_seen_at").
			Optional().
			Nillable(),
		field.JSON("metadata", map[string]any{}).
			Optional().
			Comment("Opaque vehicle metadata, e.g. ECU inventory"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Vehicle.
func (Vehicle) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("commands", Command.Type),
	}
}
