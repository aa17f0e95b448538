package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ModelConfig holds the schema definition for a named LLM backend binding
// (provider, model, and call defaults) consumed by the LLM façade.
type ModelConfig struct {
	ent.Schema
}

// Fields of the ModelConfig.
func (ModelConfig) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("name").
			Unique(),
		field.String("provider"),
		field.String("model"),
		field.Float("default_temperature").
			Default(0.2),
		field.Int("default_max_tokens").
			Default(4096),
		field.String("default_reasoning_effort").
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

// Indexes of the ModelConfig.
func (ModelConfig) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("name").
			Unique(),
	}
}

// ModelConfigAudit holds the schema definition for the append-only audit
// trail of ModelConfig mutations.
type ModelConfigAudit struct {
	ent.Schema
}

// Fields of the ModelConfigAudit.
func (ModelConfigAudit) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("model_config_name").
			Immutable(),
		field.String("changed_by").
			Immutable(),
		field.JSON("before", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.JSON("after", map[string]interface{}{}).
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ModelConfigAudit.
func (ModelConfigAudit) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("model_config_name", "created_at"),
	}
}
