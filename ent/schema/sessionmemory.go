package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SessionMemory holds the schema definition for the per-task mutable
// ledger: phase, task context, counters, and the orchestration block for
// fanned-out parents.
type SessionMemory struct {
	ent.Schema
}

// Fields of the SessionMemory.
func (SessionMemory) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Enum("phase").
			Values("new", "planning", "coding", "validating", "reflecting",
				"pr_creating", "pr_opened", "waiting_human", "failed", "completed").
			Default("new"),
		field.String("status").
			Default("active"),
		field.JSON("task_context", map[string]interface{}{}).
			Optional().
			Comment("issue metadata, target files, DoD, estimatedComplexity"),
		field.Enum("estimated_complexity").
			Values("XS", "S", "M", "L", "XL").
			Optional().
			Nillable(),
		field.JSON("agent_outputs", map[string]interface{}{}).
			Optional().
			Comment("latest per-phase artifact: plan, diff, test output, etc."),
		field.JSON("orchestration", map[string]interface{}{}).
			Optional().
			Nillable().
			Comment("present only for orchestrated parents: children ids, dependency edges, strategy"),
		field.Int("error_count").
			Default(0),
		field.Int("retry_count").
			Default(0),
		field.Time("last_checkpoint").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the SessionMemory.
func (SessionMemory) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("session").
			Field("task_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the SessionMemory.
func (SessionMemory) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id").
			Unique(),
		index.Fields("phase"),
	}
}
