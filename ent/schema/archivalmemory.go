package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ArchivalMemory holds the schema definition for the long-term,
// content-addressed, embedding-indexed store shared across tasks.
type ArchivalMemory struct {
	ent.Schema
}

// Fields of the ArchivalMemory.
func (ArchivalMemory) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.Text("content").
			Immutable(),
		field.Text("summary").
			Optional().
			Nillable(),
		field.Bytes("embedding").
			Optional().
			Comment("fixed-dimension float32 vector, little-endian packed"),
		field.Enum("source_type").
			Values("observation", "feedback", "block", "checkpoint").
			Immutable(),
		field.String("source_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("repo").
			Optional().
			Nillable(),
		field.String("task_id").
			Optional().
			Nillable(),
		field.Bool("is_global").
			Default(false),
		field.JSON("metadata", map[string]interface{}{}).
			Optional(),
		field.Int("token_count").
			Optional().
			Nillable(),
		field.Float("importance_score").
			Default(0.5),
		field.Int("access_count").
			Default(0),
		field.Time("last_accessed_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("expires_at").
			Optional().
			Nillable(),
	}
}

// Edges of the ArchivalMemory. Deliberately has no hard foreign-key edge to
// Task: rows must survive task deletion when is_global or explicitly
// retained (see pkg/memory/archival).
func (ArchivalMemory) Edges() []ent.Edge {
	return nil
}

// Indexes of the ArchivalMemory.
func (ArchivalMemory) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("repo"),
		index.Fields("task_id"),
		index.Fields("source_type"),
		index.Fields("expires_at").
			Annotations(entsql.IndexWhere("expires_at IS NOT NULL")),
		index.Fields("is_global"),
	}
}
