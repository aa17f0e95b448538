package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProgressEntry holds the schema definition for one ProgressLog row.
// Append-only; sequence is strictly increasing per task.
type ProgressEntry struct {
	ent.Schema
}

// Fields of the ProgressEntry.
func (ProgressEntry) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("sequence").
			Immutable().
			Comment("strictly greater than the prior entry for this task"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.String("event_type").
			Immutable(),
		field.String("agent").
			Optional().
			Nillable().
			Immutable(),
		field.Text("input_summary").
			Optional().
			Nillable().
			Immutable(),
		field.Text("output_summary").
			Optional().
			Nillable().
			Immutable(),
		field.Int("duration_ms").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
	}
}

// Edges of the ProgressEntry.
func (ProgressEntry) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("progress_entries").
			Field("task_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the ProgressEntry.
func (ProgressEntry) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "sequence").
			Unique(),
	}
}
