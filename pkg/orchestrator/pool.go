package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oakforge/devpipe/ent"
	entask "github.com/oakforge/devpipe/ent/task"
	"github.com/oakforge/devpipe/pkg/config"
)

// Pool polls for Task rows sitting in a non-terminal, non-yielded status
// and dispatches each to Orchestrator.Process. It is grounded on the
// teacher's queue.WorkerPool/Worker poll loop, simplified from a
// per-row FOR UPDATE SKIP LOCKED claim to a periodic scan: Orchestrator
// itself already guards against double-dispatch of the same task (its
// in-memory acquire/release pair), so Pool's only job is deciding which
// task IDs are worth calling Process on right now. This assumes a single
// replica; a multi-replica deployment would need the teacher's row-level
// claim back, which the schema deliberately does not carry yet since
// nothing in SPEC_FULL.md calls for horizontal scale-out.
type Pool struct {
	orchestrator *Orchestrator
	client       taskLister
	config       *config.QueueConfig

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// taskLister is the subset of *ent.Client.Task Pool needs, kept narrow so
// tests can fake it without standing up a full ent client.
type taskLister interface {
	DispatchableTaskIDs(ctx context.Context) ([]string, error)
}

// NewPool creates a dispatch pool. cfg may be nil (config.DefaultQueueConfig
// applies).
func NewPool(o *Orchestrator, client taskLister, cfg *config.QueueConfig) *Pool {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Pool{
		orchestrator: o,
		client:       client,
		config:       cfg,
		sem:          make(chan struct{}, cfg.WorkerCount),
	}
}

// Start launches the polling loop in a goroutine.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop signals the loop to exit and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.pollOnce(ctx); err != nil {
			slog.Error("orchestrator: dispatch poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval()):
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context) error {
	ids, err := p.client.DispatchableTaskIDs(ctx)
	if err != nil {
		return fmt.Errorf("list dispatchable tasks: %w", err)
	}

	for _, id := range ids {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		p.wg.Add(1)
		go func(taskID string) {
			defer p.wg.Done()
			defer func() { <-p.sem }()

			taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
			defer cancel()

			if err := p.orchestrator.Process(taskCtx, taskID); err != nil {
				slog.Error("orchestrator: task processing failed", "task_id", taskID, "error", err)
			}
		}(id)
	}
	return nil
}

func (p *Pool) pollInterval() time.Duration {
	base := p.config.PollInterval
	jitter := p.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(jitter)))
}

// dispatchableStatuses are the Task.status values a task can be in while it
// still needs an active Process() call to make progress. pr_opened,
// waiting_human, failed, and completed are all yield/terminal points the
// Open Question decisions document as places Process returns control to an
// external event rather than a tight poll loop.
var dispatchableStatuses = []entask.Status{
	entask.StatusNew,
	entask.StatusPlanning,
	entask.StatusCoding,
	entask.StatusValidating,
	entask.StatusPrCreating,
}

// EntTaskLister is the production taskLister backed directly by *ent.Client.
type EntTaskLister struct {
	Client *ent.Client
}

// DispatchableTaskIDs returns every Task.id currently in a dispatchable
// status, oldest first so a backlog drains roughly in arrival order.
func (l EntTaskLister) DispatchableTaskIDs(ctx context.Context) ([]string, error) {
	rows, err := l.Client.Task.Query().
		Where(entask.StatusIn(dispatchableStatuses...)).
		Order(ent.Asc(entask.FieldCreatedAt)).
		Select(entask.FieldID).
		Strings(ctx)
	if err != nil {
		return nil, fmt.Errorf("query dispatchable tasks: %w", err)
	}
	return rows, nil
}
