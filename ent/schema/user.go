package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// User holds the schema definition for diagnostic system operators.
// Rows are created externally (by the identity collaborator); the core
// only ever reads them via Command.user_id.
type User struct {
	ent.Schema
}

// Fields of the User.
func (User) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("user_id").
			Unique().
			Immutable(),
		field.String("username").
			Unique().
			NotEmpty().
			Comment("Case-sensitive, unique across the system"),
		field.Enum("role").
			Values("engineer", "admin").
			Default("engineer"),
	}
}

// Edges of the User.
func (User) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("commands", Command.Type),
	}
}
