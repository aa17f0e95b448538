package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LearnedPattern holds the schema definition for a reusable fix/convention
// learned from past task outcomes. confidence is recomputed on every
// outcome: successCount / (successCount + failureCount + 1).
type LearnedPattern struct {
	ent.Schema
}

// Fields of the LearnedPattern.
func (LearnedPattern) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.Enum("pattern_type").
			Values("fix", "convention", "error", "style", "refactor").
			Immutable(),
		field.String("trigger_pattern").
			Optional().
			Nillable(),
		field.Text("description"),
		field.Text("solution").
			Optional().
			Nillable(),
		field.JSON("examples", []string{}).
			Optional(),
		field.String("scope_repo").
			Optional().
			Nillable(),
		field.String("scope_language").
			Optional().
			Nillable(),
		field.String("scope_file_pattern").
			Optional().
			Nillable(),
		field.Float("confidence").
			Default(0),
		field.Int("success_count").
			Default(0),
		field.Int("failure_count").
			Default(0),
		field.Bool("is_global").
			Default(false),
		field.Bytes("embedding").
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the LearnedPattern.
func (LearnedPattern) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("pattern_type"),
		index.Fields("scope_repo"),
		index.Fields("confidence"),
	}
}
