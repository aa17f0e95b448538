package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// WebhookEvent holds the schema definition for an inbound webhook delivery.
// The same delivery_id is never processed twice (§6, §8).
type WebhookEvent struct {
	ent.Schema
}

// Fields of the WebhookEvent.
func (WebhookEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("delivery_id").
			Unique().
			Immutable(),
		field.JSON("payload", map[string]interface{}{}).
			Immutable(),
		field.Enum("status").
			Values("pending", "in_flight", "failed", "completed").
			Default("pending"),
		field.Int("attempts").
			Default(0),
		field.Int("max_attempts").
			Default(5),
		field.Time("next_retry_at").
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

// Indexes of the WebhookEvent.
func (WebhookEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("delivery_id").
			Unique(),
		index.Fields("status"),
	}
}
