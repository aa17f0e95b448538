// Package session implements the per-task mutable ledger (Memory: Session,
// spec §4.3): phase, attempts, progress log, and checkpoints. A Service
// wraps a single task's row set behind create/load/append/record/checkpoint
// operations so callers never touch ent query builders directly.
package session

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/attemptrecord"
	"github.com/oakforge/devpipe/ent/checkpoint"
	"github.com/oakforge/devpipe/ent/progressentry"
	"github.com/oakforge/devpipe/ent/sessionmemory"
	"github.com/oakforge/devpipe/pkg/errs"
)

// Service manages SessionMemory, ProgressEntry, AttemptRecord, and
// Checkpoint rows for tasks.
type Service struct {
	client *ent.Client
}

// NewService creates a new Service.
func NewService(client *ent.Client) *Service {
	return &Service{client: client}
}

// Create creates the SessionMemory row for a newly accepted task.
func (s *Service) Create(ctx context.Context, taskID string, taskContext map[string]any) (*ent.SessionMemory, error) {
	mem, err := s.client.SessionMemory.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetTaskContext(taskContext).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, errs.ErrAlreadyExists
		}
		return nil, fmt.Errorf("create session memory: %w", err)
	}
	return mem, nil
}

// Load retrieves the SessionMemory row for a task.
func (s *Service) Load(ctx context.Context, taskID string) (*ent.SessionMemory, error) {
	mem, err := s.client.SessionMemory.Query().
		Where(sessionmemory.TaskID(taskID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("load session memory: %w", err)
	}
	return mem, nil
}

// SetPhase transitions the session to a new phase, bumping updated_at.
func (s *Service) SetPhase(ctx context.Context, taskID string, phase sessionmemory.Phase) error {
	n, err := s.client.SessionMemory.Update().
		Where(sessionmemory.TaskID(taskID)).
		SetPhase(phase).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("set phase: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetAgentOutput merges a single key into the session's agent_outputs map
// (e.g. "plan", "diff", "test_output") and records it in-line — the
// session row is the source of truth for the Agentic Loop's current
// working state between iterations.
func (s *Service) SetAgentOutput(ctx context.Context, taskID, key string, value any) error {
	mem, err := s.Load(ctx, taskID)
	if err != nil {
		return err
	}
	outputs := mem.AgentOutputs
	if outputs == nil {
		outputs = make(map[string]any)
	}
	outputs[key] = value

	n, err := s.client.SessionMemory.Update().
		Where(sessionmemory.TaskID(taskID)).
		SetAgentOutputs(outputs).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("set agent output: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AppendProgress appends a ProgressLog entry, atomically assigning the
// next sequence number for the task via a SELECT MAX(sequence)+1 inside
// the same transaction.
func (s *Service) AppendProgress(ctx context.Context, taskID, eventType string, entry ProgressInput) (*ent.ProgressEntry, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextProgressSequence(ctx, tx.ProgressEntry.Query().Where(progressentry.TaskID(taskID)))
	if err != nil {
		return nil, err
	}

	builder := tx.ProgressEntry.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetSequence(seq).
		SetEventType(eventType)
	if entry.Agent != "" {
		builder = builder.SetAgent(entry.Agent)
	}
	if entry.InputSummary != "" {
		builder = builder.SetInputSummary(entry.InputSummary)
	}
	if entry.OutputSummary != "" {
		builder = builder.SetOutputSummary(entry.OutputSummary)
	}
	if entry.DurationMS > 0 {
		builder = builder.SetDurationMs(entry.DurationMS)
	}
	if entry.Metadata != nil {
		builder = builder.SetMetadata(entry.Metadata)
	}

	row, err := builder.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, errs.ErrSequenceViolation
		}
		return nil, fmt.Errorf("append progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit progress append: %w", err)
	}
	return row, nil
}

// ProgressInput is the caller-supplied payload for AppendProgress.
type ProgressInput struct {
	Agent         string
	InputSummary  string
	OutputSummary string
	DurationMS    int
	Metadata      map[string]any
}

// ListProgress returns the full ProgressLog in chronological order.
func (s *Service) ListProgress(ctx context.Context, taskID string) ([]*ent.ProgressEntry, error) {
	entries, err := s.client.ProgressEntry.Query().
		Where(progressentry.TaskID(taskID)).
		Order(ent.Asc(progressentry.FieldSequence)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return entries, nil
}

// RecordAttempt appends an AttemptRecord. Iteration is the caller's
// Agentic Loop iteration counter, not auto-assigned — attempts within one
// iteration (e.g. a replan followed by a fix) may share it.
func (s *Service) RecordAttempt(ctx context.Context, taskID string, iteration int, action attemptrecord.Action, result attemptrecord.Result, errMsg string) (*ent.AttemptRecord, error) {
	builder := s.client.AttemptRecord.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetIteration(iteration).
		SetAction(action).
		SetResult(result)
	if errMsg != "" {
		builder = builder.SetError(errMsg)
	}
	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	return row, nil
}

// ListAttempts returns the full AttemptHistory in chronological order.
func (s *Service) ListAttempts(ctx context.Context, taskID string) ([]*ent.AttemptRecord, error) {
	rows, err := s.client.AttemptRecord.Query().
		Where(attemptrecord.TaskID(taskID)).
		Order(ent.Asc(attemptrecord.FieldTimestamp)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return rows, nil
}

// SaveCheckpoint captures the current phase and agent_outputs as an
// immutable Checkpoint row, and stamps SessionMemory.last_checkpoint.
func (s *Service) SaveCheckpoint(ctx context.Context, taskID, reason string) (*ent.Checkpoint, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	mem, err := tx.SessionMemory.Query().Where(sessionmemory.TaskID(taskID)).Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("load session for checkpoint: %w", err)
	}

	snapshot := map[string]any{
		"phase":         string(mem.Phase),
		"agent_outputs": mem.AgentOutputs,
	}

	cp, err := tx.Checkpoint.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetReason(reason).
		SetData(snapshot).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	if _, err := tx.SessionMemory.Update().
		Where(sessionmemory.TaskID(taskID)).
		SetLastCheckpoint(time.Now()).
		Save(ctx); err != nil {
		return nil, fmt.Errorf("stamp last_checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns checkpoints for a task, most recent first.
func (s *Service) ListCheckpoints(ctx context.Context, taskID string) ([]*ent.Checkpoint, error) {
	rows, err := s.client.Checkpoint.Query().
		Where(checkpoint.TaskID(taskID)).
		Order(ent.Desc(checkpoint.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return rows, nil
}

// RollbackTo restores phase and agent_outputs from the named checkpoint's
// snapshot. ProgressLog and AttemptHistory are never touched — history is
// never rewritten (spec §4.3).
func (s *Service) RollbackTo(ctx context.Context, taskID, checkpointID string) (*ent.SessionMemory, error) {
	cp, err := s.client.Checkpoint.Query().
		Where(checkpoint.ID(checkpointID), checkpoint.TaskID(taskID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	phaseRaw, _ := cp.Data["phase"].(string)
	outputs, _ := cp.Data["agent_outputs"].(map[string]any)

	update := s.client.SessionMemory.Update().Where(sessionmemory.TaskID(taskID))
	if phaseRaw != "" {
		update = update.SetPhase(sessionmemory.Phase(phaseRaw))
	}
	if outputs != nil {
		update = update.SetAgentOutputs(outputs)
	}
	if _, err := update.Save(ctx); err != nil {
		return nil, fmt.Errorf("rollback session: %w", err)
	}

	return s.Load(ctx, taskID)
}

func nextProgressSequence(ctx context.Context, q *ent.ProgressEntryQuery) (int, error) {
	var out []struct {
		Max int `json:"max"`
	}
	sel := q.Aggregate(func(s *sql.Selector) string {
		return sql.As(sql.Max(s.C(progressentry.FieldSequence)), "max")
	})
	if err := sel.Scan(ctx, &out); err != nil {
		return 0, fmt.Errorf("compute next sequence: %w", err)
	}
	if len(out) == 0 || out[0].Max == 0 {
		return 1, nil
	}
	return out[0].Max + 1, nil
}
