package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/oakforge/devpipe/ent"
	entask "github.com/oakforge/devpipe/ent/task"
	"github.com/oakforge/devpipe/ent/webhookevent"
	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/memory/session"
)

// errNoDeliveriesAvailable signals pollAndProcess found nothing claimable;
// the caller backs off for a full poll interval instead of logging an error.
var errNoDeliveriesAvailable = errors.New("intake worker: no deliveries available")

// intakeWorker turns persisted WebhookEvent rows into root Tasks, retrying
// transient failures with exponential backoff and dead-lettering once
// MaxAttempts is exhausted. Grounded on queue.Worker's poll/claim/process
// loop (pkg/queue/worker.go): the FOR UPDATE SKIP LOCKED claim pattern and
// jittered poll interval are reused verbatim, adapted from AlertSession
// claiming to WebhookEvent claiming.
type intakeWorker struct {
	client     *ent.Client
	sessionSvc *session.Service
	cfg        *config.QueueConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newIntakeWorker(client *ent.Client, sessionSvc *session.Service, cfg *config.QueueConfig) *intakeWorker {
	return &intakeWorker{
		client:     client,
		sessionSvc: sessionSvc,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (w *intakeWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (w *intakeWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *intakeWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, errNoDeliveriesAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				slog.Error("intake worker: error processing delivery", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *intakeWorker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *intakeWorker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess claims one claimable WebhookEvent and drives it to
// completed or failed(-with-backoff).
func (w *intakeWorker) pollAndProcess(ctx context.Context) error {
	evt, err := w.claimNext(ctx)
	if err != nil {
		return err
	}

	if err := w.process(ctx, evt); err != nil {
		return w.recordFailure(ctx, evt, err)
	}

	_, err = evt.Update().SetStatus(webhookevent.StatusCompleted).Save(ctx)
	return err
}

// claimNext atomically claims the oldest pending-or-due-for-retry
// WebhookEvent using FOR UPDATE SKIP LOCKED, mirroring
// queue.Worker.claimNextSession.
func (w *intakeWorker) claimNext(ctx context.Context) (*ent.WebhookEvent, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("intake worker: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	evt, err := tx.WebhookEvent.Query().
		Where(
			webhookevent.Or(
				webhookevent.StatusEQ(webhookevent.StatusPending),
				webhookevent.And(
					webhookevent.StatusEQ(webhookevent.StatusFailed),
					webhookevent.NextRetryAtNotNil(),
					webhookevent.NextRetryAtLTE(now),
				),
			),
		).
		Order(ent.Asc(webhookevent.FieldCreatedAt)).
		Limit(1).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, errNoDeliveriesAvailable
		}
		return nil, fmt.Errorf("intake worker: query claimable delivery: %w", err)
	}

	evt, err = evt.Update().SetStatus(webhookevent.StatusInFlight).Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("intake worker: claim delivery %s: %w", evt.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("intake worker: commit claim: %w", err)
	}
	return evt, nil
}

// process parses evt's payload and, for an actionable issue action,
// creates the root Task + SessionMemory pair. A repo+issue_number that
// already has a Task (e.g. a "reopened" delivery for an issue already
// tracked) is treated as a no-op success — the existing Task's own
// lifecycle owns what happens next.
func (w *intakeWorker) process(ctx context.Context, evt *ent.WebhookEvent) error {
	payload, err := parseIssuePayload(evt.Payload)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	if !shouldCreateTask(payload.Action) {
		return nil
	}
	if payload.Repository.FullName == "" {
		return fmt.Errorf("payload missing repository.full_name")
	}

	taskID := uuid.NewString()
	_, err = w.client.Task.Create().
		SetID(taskID).
		SetRepo(payload.Repository.FullName).
		SetIssueNumber(payload.Issue.Number).
		SetTitle(payload.Issue.Title).
		SetBody(payload.Issue.Body).
		SetStatus(entask.StatusNew).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil
		}
		return fmt.Errorf("create task: %w", err)
	}

	if _, err := w.sessionSvc.Create(ctx, taskID, map[string]any{
		"repo": payload.Repository.FullName, "issue_number": payload.Issue.Number, "title": payload.Issue.Title,
	}); err != nil {
		return fmt.Errorf("create session memory for %s: %w", taskID, err)
	}
	return nil
}

// recordFailure increments attempts and either schedules a retry with
// exponential backoff or dead-letters evt once MaxAttempts is reached
// (next_retry_at left unset, so claimNext never selects it again).
func (w *intakeWorker) recordFailure(ctx context.Context, evt *ent.WebhookEvent, cause error) error {
	attempts := evt.Attempts + 1
	update := evt.Update().SetStatus(webhookevent.StatusFailed).SetAttempts(attempts)

	if attempts < evt.MaxAttempts {
		backoff := time.Duration(1<<uint(attempts)) * time.Second
		update = update.SetNextRetryAt(time.Now().Add(backoff))
	} else {
		update = update.ClearNextRetryAt()
		slog.Error("intake worker: delivery exhausted retries, dead-lettering",
			"delivery_id", evt.DeliveryID, "attempts", attempts, "error", cause)
	}

	if _, uErr := update.Save(ctx); uErr != nil {
		return fmt.Errorf("record failure for delivery %s: %w", evt.DeliveryID, uErr)
	}
	return nil
}
