package hooks

import (
	"context"
	"encoding/json"
	"fmt"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/observation"
)

// observationType maps a bus EventType onto one of Observation's narrower
// enum values. Events with no sensible Observation shape (phase_change,
// memory_update, task_start/end) are not archived by the default handler.
var observationType = map[EventType]observation.Type{
	ToolCall:   observation.TypeToolCall,
	ToolResult: observation.TypeToolCall,
	Error:      observation.TypeError,
}

// Observer is the default handler set (spec §4.4: "Default handlers
// translate events into Observations"). It persists a bounded summary of
// each archivable event and lets the full payload ride along as content.
type Observer struct {
	client *ent.Client
}

// NewObserver creates an Observer backed by client.
func NewObserver(client *ent.Client) *Observer {
	return &Observer{client: client}
}

// Register attaches the observer's handlers to bus at Normal priority,
// one subscription per archivable EventType.
func (o *Observer) Register(bus *Bus) {
	for eventType := range observationType {
		bus.Subscribe(eventType, Normal, Filter{}, o.handle)
	}
}

func (o *Observer) handle(ctx context.Context, e Event) error {
	obsType, ok := observationType[e.Type]
	if !ok {
		return nil
	}
	if e.TaskID == "" {
		return nil
	}

	full, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal observation payload: %w", err)
	}
	summary := summarize(e, full)

	tx, err := o.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin observation tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextObservationSequence(ctx, tx.Observation.Query().Where(observation.TaskID(e.TaskID)))
	if err != nil {
		return err
	}

	builder := tx.Observation.Create().
		SetID(uuid.New().String()).
		SetTaskID(e.TaskID).
		SetSequence(seq).
		SetType(obsType).
		SetFullContent(string(full)).
		SetSummary(summary)
	if e.Agent != "" {
		builder = builder.SetAgent(e.Agent)
	}
	if e.Tool != "" {
		builder = builder.SetTool(e.Tool)
	}

	if _, err := builder.Save(ctx); err != nil {
		return fmt.Errorf("save observation: %w", err)
	}
	return tx.Commit()
}

// summarize truncates the observation's archival content to Observation's
// 2000-char summary bound, preferring a human-readable one-liner over the
// raw JSON when available.
func summarize(e Event, full []byte) string {
	const maxLen = 2000

	text := string(full)
	if note, ok := e.Payload["message"].(string); ok && note != "" {
		text = note
	}
	if len(text) > maxLen {
		return text[:maxLen]
	}
	return text
}

func nextObservationSequence(ctx context.Context, q *ent.ObservationQuery) (int, error) {
	var out []struct {
		Max int `json:"max"`
	}
	sel := q.Aggregate(func(s *sql.Selector) string {
		return sql.As(sql.Max(s.C(observation.FieldSequence)), "max")
	})
	if err := sel.Scan(ctx, &out); err != nil {
		return 0, fmt.Errorf("compute next observation sequence: %w", err)
	}
	if len(out) == 0 || out[0].Max == 0 {
		return 1, nil
	}
	return out[0].Max + 1, nil
}
