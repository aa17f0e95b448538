package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AttemptRecord holds the schema definition for one AttemptHistory row.
// Append-only, never mutated; see Task.attemptCount for the live counter.
type AttemptRecord struct {
	ent.Schema
}

// Fields of the AttemptRecord.
func (AttemptRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("iteration").
			Immutable(),
		field.Enum("action").
			Values("plan", "code", "fix").
			Immutable(),
		field.Enum("result").
			Values("success", "failure").
			Immutable(),
		field.String("error").
			Optional().
			Nillable().
			Immutable(),
		field.Time("timestamp").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the AttemptRecord.
func (AttemptRecord) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("attempt_records").
			Field("task_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the AttemptRecord.
func (AttemptRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "iteration"),
		index.Fields("task_id", "timestamp"),
	}
}
