package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StaticRepoConfig holds the schema definition for immutable per-repo
// configuration (C1, Memory: Static). Mutated only through the admin
// operation in pkg/memory/static, which writes a new row and bumps
// updated_at — existing sessions keep seeing the version captured at
// task start.
type StaticRepoConfig struct {
	ent.Schema
}

// Fields of the StaticRepoConfig.
func (StaticRepoConfig) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("owner").
			Immutable(),
		field.String("repo").
			Immutable(),
		field.JSON("allowed_paths", []string{}).
			Optional(),
		field.JSON("blocked_paths", []string{}).
			Optional(),
		field.Int("max_diff_lines").
			Default(2000),
		field.Int("max_files_per_task").
			Default(25),
		field.JSON("tech_stack_hints", []string{}).
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the StaticRepoConfig.
func (StaticRepoConfig) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("owner", "repo").
			Unique(),
	}
}
