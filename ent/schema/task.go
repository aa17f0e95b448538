package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity: one inbound
// code-change request tracked end to end from webhook to PR.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("task_id").
			Unique().
			Immutable(),
		field.String("repo").
			Comment("owner/name, e.g. 'org/r'"),
		field.Int("issue_number"),
		field.String("title"),
		field.Text("body"),
		field.Enum("status").
			Values("new", "planning", "coding", "validating", "pr_creating",
				"pr_opened", "waiting_human", "failed", "completed").
			Default("new"),
		field.JSON("plan", []string{}).
			Optional().
			Comment("ordered plan steps"),
		field.JSON("definition_of_done", []string{}).
			Optional(),
		field.JSON("target_files", []string{}).
			Optional().
			Comment("set of files the plan expects to touch"),
		field.Text("current_diff").
			Optional().
			Nillable(),
		field.Int("attempt_count").
			Default(0),
		field.Int("max_attempts").
			Default(5),
		field.String("last_error").
			Optional().
			Nillable(),
		field.String("parent_task_id").
			Optional().
			Nillable().
			Comment("set for sub-tasks fanned out by an orchestrated parent"),
		field.Int("subtask_index").
			Optional().
			Nillable(),
		field.Bool("is_orchestrated").
			Default(false).
			Comment("true only for parents; a child can never also be a parent"),
		field.String("pr_url").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("session", SessionMemory.Type).
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("progress_entries", ProgressEntry.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("attempt_records", AttemptRecord.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("checkpoints", Checkpoint.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("observations", Observation.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("command_executions", CommandExecution.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("children", Task.Type).
			Annotations(entsql.OnDelete(entsql.SetNull)),
		edge.From("parent", Task.Type).
			Ref("children").
			Field("parent_task_id").
			Unique(),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("repo", "issue_number").
			Unique(),
		index.Fields("status"),
		index.Fields("parent_task_id"),
		index.Fields("status", "created_at"),
	}
}
