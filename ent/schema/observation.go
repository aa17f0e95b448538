package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Observation holds the schema definition for a bifurcated memory unit:
// fullContent is archival, summary is working memory. Sequence numbering
// is per-task monotonic (independent from ProgressEntry.sequence).
type Observation struct {
	ent.Schema
}

// Fields of the Observation.
func (Observation) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("sequence").
			Immutable(),
		field.Enum("type").
			Values("tool_call", "decision", "error", "fix", "learning").
			Immutable(),
		field.String("agent").
			Optional().
			Nillable().
			Immutable(),
		field.String("tool").
			Optional().
			Nillable().
			Immutable(),
		field.Text("full_content").
			Immutable(),
		field.String("summary").
			MaxLen(2000).
			Immutable(),
		field.Int("tokens_used").
			Optional().
			Nillable().
			Immutable(),
		field.Int("duration_ms").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("tags", []string{}).
			Optional().
			Immutable(),
		field.JSON("file_refs", []string{}).
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Observation.
func (Observation) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("observations").
			Field("task_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Observation.
func (Observation) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "sequence").
			Unique(),
		index.Fields("type"),
	}
}
