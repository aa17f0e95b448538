// Package orchestrator drives one Task through the lifecycle state machine
// (spec §4.8): NEW → PLANNING → CODING → VALIDATING → (PR_CREATING →
// PR_OPENED) | WAITING_HUMAN | FAILED | COMPLETED. It is the sole writer of
// Task.status, SessionMemory.phase, and AttemptHistory, grounded on the
// teacher's queue.Worker poll/claim/process loop and
// agent/orchestrator.Runner's sub-task fan-out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/sessionmemory"
	entask "github.com/oakforge/devpipe/ent/task"
	"github.com/oakforge/devpipe/pkg/agentic"
	"github.com/oakforge/devpipe/pkg/errs"
	"github.com/oakforge/devpipe/pkg/foreman"
	"github.com/oakforge/devpipe/pkg/hooks"
	"github.com/oakforge/devpipe/pkg/memory/session"
	"github.com/oakforge/devpipe/pkg/metrics"
	"github.com/oakforge/devpipe/pkg/memory/static"
	"github.com/oakforge/devpipe/pkg/patch"
	"github.com/oakforge/devpipe/pkg/validator"
)

// PlanResult is what a Planner produces from an issue's title and body.
type PlanResult struct {
	Steps            []string
	DefinitionOfDone []string
	TargetFiles      []string
	Complexity       string // one of XS, S, M, L, XL
}

// Planner turns an issue into an ordered plan.
type Planner interface {
	Plan(ctx context.Context, issueTitle, issueBody string) (PlanResult, error)
}

// ReplanAdapter adapts a Planner to agentic.Planner's narrower
// issueWithFeedback-in/steps-out signature, so the same Planner
// implementation drives both the initial planning phase and the Agentic
// Loop's replan path.
type ReplanAdapter struct {
	Planner Planner
}

// Replan satisfies agentic.Planner by discarding everything but the step
// list; the feedback is already merged into issueWithFeedback by the Loop.
func (a ReplanAdapter) Replan(ctx context.Context, issueWithFeedback string) ([]string, error) {
	result, err := a.Planner.Plan(ctx, "", issueWithFeedback)
	if err != nil {
		return nil, err
	}
	return result.Steps, nil
}

// Coder produces a unified diff implementing plan against targetFiles.
type Coder interface {
	Code(ctx context.Context, plan []string, targetFiles []string) (diff string, err error)
}

// PRRequest is the input to CodeHost.OpenDraftPR.
type PRRequest struct {
	Repo   string
	Branch string
	Title  string
	Body   string
	Diff   string
}

// CodeHost opens draft PRs against the target repo.
type CodeHost interface {
	OpenDraftPR(ctx context.Context, req PRRequest) (prURL string, err error)
}

// IssueTracker transitions the linked ticket once a PR is opened.
type IssueTracker interface {
	TransitionInReview(ctx context.Context, repo string, issueNumber int) error
}

// Config bounds checkpoint retry and Agentic Loop budgets.
type Config struct {
	CheckpointRetries int
	CheckpointBackoff time.Duration
	Agentic           agentic.Config
	// OrchestrationThreshold is the minimum complexity (inclusive) at which
	// a multi-file plan is fanned out into sub-tasks (spec §4.9).
	OrchestrationThreshold string
}

// DefaultConfig mirrors the teacher's config defaults idiom.
func DefaultConfig() Config {
	return Config{
		CheckpointRetries: 3,
		CheckpointBackoff: 200 * time.Millisecond,
		Agentic: agentic.Config{
			MaxIterations:       5,
			MaxReplans:          2,
			ConfidenceThreshold: 0.5,
		},
		OrchestrationThreshold: "M",
	}
}

var complexityRank = map[string]int{"XS": 0, "S": 1, "M": 2, "L": 3, "XL": 4}

// Orchestrator is a single-instance driver for one Task at a time; callers
// run it from a worker pool (one goroutine per claimed task), mirroring
// queue.Worker's poll/claim/process loop.
type Orchestrator struct {
	client       *ent.Client
	sessionSvc   *session.Service
	staticSvc    *static.Service
	validator    *validator.Runner
	foreman      *foreman.Foreman
	loop         *agentic.Loop
	planner      Planner
	coder        Coder
	codeHost     CodeHost
	issueTracker IssueTracker
	children     ChildRunner
	decomposer   Decomposer
	aggregator   Aggregator
	bus          *hooks.Bus
	config       Config

	mu     sync.Mutex
	active map[string]struct{}
}

// ChildRunner processes a fanned-out sub-task to completion and returns its
// final diff. Satisfied by a *Orchestrator wrapper bound to sub-task IDs in
// production; injectable so orchestration tests don't need a full stack.
type ChildRunner interface {
	RunChild(ctx context.Context, childTaskID string) (diff string, err error)
}

// New constructs an Orchestrator. children may be nil if the deployment
// never creates orchestrated parents (single-task mode).
func New(
	client *ent.Client,
	sessionSvc *session.Service,
	staticSvc *static.Service,
	validatorRunner *validator.Runner,
	foremanSvc *foreman.Foreman,
	loop *agentic.Loop,
	planner Planner,
	coder Coder,
	codeHost CodeHost,
	issueTracker IssueTracker,
	children ChildRunner,
	decomposer Decomposer,
	aggregator Aggregator,
	bus *hooks.Bus,
	config Config,
) *Orchestrator {
	return &Orchestrator{
		client:       client,
		sessionSvc:   sessionSvc,
		staticSvc:    staticSvc,
		validator:    validatorRunner,
		foreman:      foremanSvc,
		loop:         loop,
		planner:      planner,
		coder:        coder,
		codeHost:     codeHost,
		issueTracker: issueTracker,
		children:     children,
		decomposer:   decomposer,
		aggregator:   aggregator,
		bus:          bus,
		config:       config,
		active:       make(map[string]struct{}),
	}
}

// SetChildRunner assigns the ChildRunner after construction, for the
// common case where a single Orchestrator is its own ChildRunner (see
// SelfChildRunner) and so cannot be passed to New before it exists.
func (o *Orchestrator) SetChildRunner(c ChildRunner) {
	o.children = c
}

// SelfChildRunner fans a sub-task out to the same Orchestrator instance
// that owns it: RunChild drives the child Task to completion via Process
// and returns its resulting diff, grounded on the teacher's
// agent/orchestrator.Runner sub-task recursion.
type SelfChildRunner struct {
	Orchestrator *Orchestrator
	Client       *ent.Client
}

// RunChild implements ChildRunner.
func (r *SelfChildRunner) RunChild(ctx context.Context, childTaskID string) (string, error) {
	if err := r.Orchestrator.Process(ctx, childTaskID); err != nil {
		return "", fmt.Errorf("orchestrator: run child task: %w", err)
	}
	child, err := r.Client.Task.Get(ctx, childTaskID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: load child task after run: %w", err)
	}
	if child.CurrentDiff == nil {
		return "", fmt.Errorf("orchestrator: child task %s produced no diff", childTaskID)
	}
	return *child.CurrentDiff, nil
}

// Process runs taskID until it reaches a terminal phase or yields control
// (WAITING_HUMAN, PR_OPENED). Idempotent: calling again after an
// interruption resumes from the last persisted phase. Duplicate concurrent
// calls for the same taskID observe the running instance and return nil.
func (o *Orchestrator) Process(ctx context.Context, taskID string) error {
	if !o.acquire(taskID) {
		slog.Info("orchestrator: task already has an active worker, skipping", "task_id", taskID)
		return nil
	}
	defer o.release(taskID)

	for {
		t, err := o.client.Task.Get(ctx, taskID)
		if err != nil {
			return fmt.Errorf("orchestrator: load task %s: %w", taskID, err)
		}
		if isTerminalStatus(t.Status) {
			return nil
		}

		mem, err := o.sessionSvc.Load(ctx, taskID)
		if errors.Is(err, errs.ErrNotFound) {
			mem, err = o.sessionSvc.Create(ctx, taskID, map[string]any{
				"repo": t.Repo, "issue_number": t.IssueNumber, "title": t.Title,
			})
		}
		if err != nil {
			return fmt.Errorf("orchestrator: session memory for %s: %w", taskID, err)
		}

		yield, err := o.step(ctx, t, mem)
		if err != nil {
			return err
		}
		if yield {
			return nil
		}
	}
}

// Cancel transitions taskID to FAILED with reason, regardless of current
// phase. Any held sandbox is released by virtue of Foreman's own
// success-cleans/failure-preserves policy — Cancel does not itself touch
// the filesystem.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, reason string) error {
	if err := o.sessionSvc.SetPhase(ctx, taskID, sessionmemory.PhaseFailed); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("orchestrator: cancel set phase: %w", err)
	}
	_, err := o.client.Task.UpdateOneID(taskID).
		SetStatus(entask.StatusFailed).
		SetLastError(reason).
		SetCompletedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: cancel task %s: %w", taskID, err)
	}
	o.emit(ctx, taskID, "cancelled", map[string]any{"reason": reason})
	return nil
}

func (o *Orchestrator) acquire(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[taskID]; ok {
		return false
	}
	o.active[taskID] = struct{}{}
	return true
}

func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, taskID)
}

func isTerminalStatus(s entask.Status) bool {
	return s == entask.StatusFailed || s == entask.StatusCompleted
}

// step executes exactly one phase's work and reports whether Process
// should stop (yield=true) or loop again to pick up the next phase.
func (o *Orchestrator) step(ctx context.Context, t *ent.Task, mem *ent.SessionMemory) (yield bool, err error) {
	switch mem.Phase {
	case sessionmemory.PhaseNew:
		return false, o.enterPhase(ctx, t.ID, sessionmemory.PhasePlanning, entask.StatusPlanning)
	case sessionmemory.PhasePlanning:
		return o.runPlanning(ctx, t)
	case sessionmemory.PhaseCoding:
		return o.runCoding(ctx, t)
	case sessionmemory.PhaseValidating:
		return o.runValidating(ctx, t)
	case sessionmemory.PhasePrCreating:
		return o.runPRCreating(ctx, t)
	default:
		// pr_opened, waiting_human, failed, completed, reflecting (internal
		// to the Agentic Loop, never observed as a resting phase here).
		return true, nil
	}
}

// enterPhase checkpoints then transitions both SessionMemory.phase and
// Task.status together, per the "checkpoint before work" ordering (spec
// §4.1 step 2).
func (o *Orchestrator) enterPhase(ctx context.Context, taskID string, phase sessionmemory.Phase, status entask.Status) error {
	if err := o.checkpoint(ctx, taskID, "enter_"+string(phase)); err != nil {
		return o.failTask(ctx, taskID, err)
	}
	if err := o.sessionSvc.SetPhase(ctx, taskID, phase); err != nil {
		return fmt.Errorf("orchestrator: set phase %s: %w", phase, err)
	}
	if _, err := o.client.Task.UpdateOneID(taskID).SetStatus(status).Save(ctx); err != nil {
		return fmt.Errorf("orchestrator: set status %s: %w", status, err)
	}
	o.emit(ctx, taskID, "phase_change", map[string]any{"phase": string(phase)})
	return nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, taskID, reason string) error {
	retries := o.config.CheckpointRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := o.config.CheckpointBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if _, err := o.sessionSvc.SaveCheckpoint(ctx, taskID, reason); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(backoff * time.Duration(1<<attempt))
	}
	return errs.Wrap(errs.KindTerminal, "checkpoint persistence failed", lastErr).WithReason("persistence_unrecoverable")
}

// failTask marks taskID FAILED with a reason derived from err's Kind,
// mirroring the error taxonomy's propagation policy (spec §7): anything
// that isn't Transient surfaces as a phase transition here.
func (o *Orchestrator) failTask(ctx context.Context, taskID string, cause error) error {
	reason := cause.Error()
	var de *errs.Error
	if errors.As(cause, &de) && de.Kind == errs.KindPolicyViolation {
		return o.enterPhase(ctx, taskID, sessionmemory.PhaseWaitingHuman, entask.StatusWaitingHuman)
	}

	_ = o.sessionSvc.SetPhase(ctx, taskID, sessionmemory.PhaseFailed)
	_, err := o.client.Task.UpdateOneID(taskID).
		SetStatus(entask.StatusFailed).
		SetLastError(reason).
		SetCompletedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: persist failure for %s: %w", taskID, err)
	}
	o.emit(ctx, taskID, "task_failed", map[string]any{"reason": reason})
	return nil
}

func (o *Orchestrator) runPlanning(ctx context.Context, t *ent.Task) (bool, error) {
	result, err := o.planner.Plan(ctx, t.Title, t.Body)
	if err != nil {
		return true, o.failTask(ctx, t.ID, errs.Wrap(errs.KindInternal, "planning failed", err))
	}

	isOrchestrated := t.ParentTaskID == nil &&
		complexityRank[result.Complexity] >= complexityRank[o.config.OrchestrationThreshold] &&
		len(result.TargetFiles) > 1

	if _, err := o.client.Task.UpdateOneID(t.ID).
		SetPlan(result.Steps).
		SetDefinitionOfDone(result.DefinitionOfDone).
		SetTargetFiles(result.TargetFiles).
		SetIsOrchestrated(isOrchestrated).
		Save(ctx); err != nil {
		return true, fmt.Errorf("orchestrator: persist plan for %s: %w", t.ID, err)
	}

	if err := o.sessionSvc.SetAgentOutput(ctx, t.ID, "plan", result.Steps); err != nil {
		return true, fmt.Errorf("orchestrator: record plan output: %w", err)
	}
	if result.Complexity != "" {
		if err := o.client.SessionMemory.Update().
			Where(sessionmemory.TaskID(t.ID)).
			SetEstimatedComplexity(sessionmemory.EstimatedComplexity(result.Complexity)).
			Exec(ctx); err != nil {
			return true, fmt.Errorf("orchestrator: record estimated complexity: %w", err)
		}
	}
	if _, err := o.sessionSvc.AppendProgress(ctx, t.ID, "plan_complete", session.ProgressInput{
		OutputSummary: fmt.Sprintf("planned %d steps across %d files", len(result.Steps), len(result.TargetFiles)),
		Metadata:      map[string]any{"complexity": result.Complexity, "orchestrated": isOrchestrated},
	}); err != nil {
		return true, fmt.Errorf("orchestrator: append progress: %w", err)
	}

	return false, o.enterPhase(ctx, t.ID, sessionmemory.PhaseCoding, entask.StatusCoding)
}

func (o *Orchestrator) runCoding(ctx context.Context, t *ent.Task) (bool, error) {
	var diff string
	var err error

	if t.IsOrchestrated {
		diff, err = o.runOrchestratedCoding(ctx, t)
	} else {
		diff, err = o.coder.Code(ctx, t.Plan, t.TargetFiles)
	}
	if err != nil {
		return true, o.failTask(ctx, t.ID, errs.Wrap(errs.KindInternal, "coding failed", err))
	}

	if violation := o.checkPolicy(ctx, t, diff); violation != nil {
		return true, o.failTask(ctx, t.ID, violation)
	}

	if _, err := o.client.Task.UpdateOneID(t.ID).SetCurrentDiff(diff).Save(ctx); err != nil {
		return true, fmt.Errorf("orchestrator: persist diff for %s: %w", t.ID, err)
	}
	if err := o.sessionSvc.SetAgentOutput(ctx, t.ID, "diff", diff); err != nil {
		return true, fmt.Errorf("orchestrator: record diff output: %w", err)
	}
	if _, err := o.sessionSvc.AppendProgress(ctx, t.ID, "coding_complete", session.ProgressInput{
		OutputSummary: fmt.Sprintf("produced a %d-byte diff", len(diff)),
	}); err != nil {
		return true, fmt.Errorf("orchestrator: append progress: %w", err)
	}

	return false, o.enterPhase(ctx, t.ID, sessionmemory.PhaseValidating, entask.StatusValidating)
}

// checkPolicy enforces Memory: Static's per-repo constraints against a
// candidate diff. A breach is a PolicyViolation, which failTask routes to
// WAITING_HUMAN rather than FAILED.
func (o *Orchestrator) checkPolicy(ctx context.Context, t *ent.Task, diff string) error {
	owner, repo, ok := strings.Cut(t.Repo, "/")
	if !ok {
		return nil
	}
	cfg, err := o.staticSvc.Get(ctx, owner, repo)
	if err != nil {
		return nil // static config lookup failures are not policy violations
	}

	if lines := strings.Count(diff, "\n"); lines > cfg.MaxDiffLines {
		return errs.New(errs.KindPolicyViolation, fmt.Sprintf("diff has %d lines, exceeds max_diff_lines %d", lines, cfg.MaxDiffLines))
	}

	files, err := patch.ParseFiles(diff)
	if err == nil {
		if len(files) > cfg.MaxFilesPerTask {
			return errs.New(errs.KindPolicyViolation, fmt.Sprintf("diff touches %d files, exceeds max_files_per_task %d", len(files), cfg.MaxFilesPerTask))
		}
		for _, f := range files {
			if pathBlocked(f.Path(), cfg.BlockedPaths) {
				return errs.New(errs.KindPolicyViolation, fmt.Sprintf("path %q is blocked for %s", f.Path(), t.Repo))
			}
			if len(cfg.AllowedPaths) > 0 && !pathAllowed(f.Path(), cfg.AllowedPaths) {
				return errs.New(errs.KindPolicyViolation, fmt.Sprintf("path %q is outside the allowed set for %s", f.Path(), t.Repo))
			}
		}
	}
	return nil
}

func pathBlocked(path string, blocked []string) bool {
	for _, b := range blocked {
		if strings.HasPrefix(path, b) {
			return true
		}
	}
	return false
}

func pathAllowed(path string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(path, a) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) runValidating(ctx context.Context, t *ent.Task) (bool, error) {
	diff := ""
	if t.CurrentDiff != nil {
		diff = *t.CurrentDiff
	}

	var verdict *validator.Verdict
	metrics.ObserveValidator(ctx, t.ID, func(ctx context.Context) string {
		verdict = o.validator.Run(ctx, validator.Target{Diff: diff, TargetFiles: t.TargetFiles})
		return string(verdict.Status)
	})

	if verdict.Status == "passed" {
		return o.runForeman(ctx, t, diff)
	}

	if verdict.Terminal {
		return true, o.failTask(ctx, t.ID, errs.New(errs.KindTerminal, verdict.TerminalReason).WithReason(verdict.TerminalReason))
	}

	return o.reflectAndAct(ctx, t, diff, verdict)
}

// runForeman sandboxes clone/apply/install/test against diff; only on
// success does the task proceed toward PR creation (spec §4.1 step 5).
func (o *Orchestrator) runForeman(ctx context.Context, t *ent.Task, diff string) (bool, error) {
	if o.foreman == nil {
		return false, o.enterPhase(ctx, t.ID, sessionmemory.PhasePrCreating, entask.StatusPrCreating)
	}

	owner, repoName, _ := strings.Cut(t.Repo, "/")
	var outcome foreman.Outcome
	metrics.ObserveForeman(ctx, t.ID, func(ctx context.Context) (string, bool) {
		outcome = o.foreman.Run(ctx, foreman.Task{
			RepoURL: fmt.Sprintf("https://github.com/%s/%s.git", owner, repoName),
			Branch:  "main",
			Diff:    diff,
		})
		return foremanFailureSummary(outcome), outcome.Success
	})
	if outcome.Success {
		if _, err := o.sessionSvc.AppendProgress(ctx, t.ID, "foreman_passed", session.ProgressInput{
			OutputSummary: fmt.Sprintf("foreman ran %d phases successfully", len(outcome.Phases)),
		}); err != nil {
			return true, fmt.Errorf("orchestrator: append progress: %w", err)
		}
		return false, o.enterPhase(ctx, t.ID, sessionmemory.PhasePrCreating, entask.StatusPrCreating)
	}

	testOutput := foremanFailureSummary(outcome)
	verdict := &validator.Verdict{Status: "failed", FixStrategy: testOutput}
	return o.reflectAndAct(ctx, t, diff, verdict)
}

func foremanFailureSummary(outcome foreman.Outcome) string {
	var sb strings.Builder
	if outcome.Err != nil {
		sb.WriteString(outcome.Err.Error())
		sb.WriteString("\n")
	}
	for _, p := range outcome.Phases {
		if p.Result.ExitCode != 0 {
			fmt.Fprintf(&sb, "phase %s exited %d: %s\n", p.Phase, p.Result.ExitCode, p.Result.Stderr)
		}
	}
	return sb.String()
}

// reflectAndAct hands a failed verdict to the Agentic Loop (the internal
// REFLECTING state, spec §4.8) and applies its recommendation: a
// successful fix overwrites the diff and advances to validating again; a
// replan resets phase to planning and increments the attempt counter
// without truncating AttemptHistory; an abort or exhausted budget fails
// the task. Refuses to re-enter the loop once AttemptCount has already
// hit MaxAttempts (spec §3, §7 BudgetExhausted).
func (o *Orchestrator) reflectAndAct(ctx context.Context, t *ent.Task, diff string, verdict *validator.Verdict) (bool, error) {
	if t.AttemptCount >= t.MaxAttempts {
		return true, o.failTask(ctx, t.ID, errs.New(errs.KindBudgetExhausted, "max attempts exhausted").WithReason("max_attempts_exceeded"))
	}

	prior, err := o.sessionSvc.ListAttempts(ctx, t.ID)
	if err != nil {
		return true, fmt.Errorf("orchestrator: list attempts: %w", err)
	}

	result, err := o.loop.Run(ctx, t.ID, agentic.Input{
		Issue:       t.Body,
		Plan:        t.Plan,
		CurrentDiff: diff,
		TestOutput:  feedbackString(verdict),
		PriorAttempts: attemptSummaries(prior),
	}, o.config.Agentic)
	if err != nil {
		return true, o.failTask(ctx, t.ID, errs.Wrap(errs.KindInternal, "agentic loop failed", err))
	}

	if _, err := o.client.Task.UpdateOneID(t.ID).AddAttemptCount(1).Save(ctx); err != nil {
		return true, fmt.Errorf("orchestrator: bump attempt count: %w", err)
	}

	if result.Replanned {
		return false, o.enterPhase(ctx, t.ID, sessionmemory.PhasePlanning, entask.StatusPlanning)
	}

	if !result.Success {
		kind := errs.KindBudgetExhausted
		if result.Reason == "" {
			result.Reason = "agentic loop exhausted without a diagnosis"
		}
		return true, o.failTask(ctx, t.ID, errs.New(kind, result.Reason).WithReason(result.Reason))
	}

	if _, err := o.client.Task.UpdateOneID(t.ID).SetCurrentDiff(result.FinalDiff).Save(ctx); err != nil {
		return true, fmt.Errorf("orchestrator: persist fixed diff: %w", err)
	}
	if err := o.sessionSvc.SetAgentOutput(ctx, t.ID, "diff", result.FinalDiff); err != nil {
		return true, fmt.Errorf("orchestrator: record fixed diff: %w", err)
	}

	return false, nil
}

func feedbackString(v *validator.Verdict) string {
	if v.FixStrategy != "" {
		return v.FixStrategy
	}
	var sb strings.Builder
	for _, issue := range v.Issues {
		fmt.Fprintf(&sb, "[%s] %s\n", issue.Severity, issue.Description)
	}
	return sb.String()
}

func attemptSummaries(rows []*ent.AttemptRecord) []agentic.AttemptSummary {
	out := make([]agentic.AttemptSummary, 0, len(rows))
	for _, r := range rows {
		errMsg := ""
		if r.Error != nil {
			errMsg = *r.Error
		}
		out = append(out, agentic.AttemptSummary{
			Iteration: r.Iteration,
			Action:    string(r.Action),
			Result:    string(r.Result),
			Error:     errMsg,
		})
	}
	return out
}

func (o *Orchestrator) runPRCreating(ctx context.Context, t *ent.Task) (bool, error) {
	diff := ""
	if t.CurrentDiff != nil {
		diff = *t.CurrentDiff
	}

	body := t.Body
	if mem, err := o.sessionSvc.Load(ctx, t.ID); err == nil {
		if prBody, ok := mem.AgentOutputs["pr_body"].(string); ok && prBody != "" {
			body = prBody
		}
	}

	prURL, err := o.codeHost.OpenDraftPR(ctx, PRRequest{
		Repo:   t.Repo,
		Branch: fmt.Sprintf("devpipe/task-%s", t.ID),
		Title:  t.Title,
		Body:   body,
		Diff:   diff,
	})
	if err != nil {
		return true, o.failTask(ctx, t.ID, errs.Wrap(errs.KindTransient, "opening draft PR failed", err))
	}

	if o.issueTracker != nil {
		if err := o.issueTracker.TransitionInReview(ctx, t.Repo, t.IssueNumber); err != nil {
			slog.Warn("orchestrator: issue tracker transition failed", "task_id", t.ID, "error", err)
		}
	}

	if _, err := o.client.Task.UpdateOneID(t.ID).
		SetStatus(entask.StatusPrOpened).
		SetPrURL(prURL).
		SetCompletedAt(time.Now()).
		Save(ctx); err != nil {
		return true, fmt.Errorf("orchestrator: persist PR url: %w", err)
	}
	if err := o.sessionSvc.SetPhase(ctx, t.ID, sessionmemory.PhasePrOpened); err != nil {
		return true, fmt.Errorf("orchestrator: set phase pr_opened: %w", err)
	}
	o.emit(ctx, t.ID, "task_end", map[string]any{"pr_url": prURL})
	return true, nil
}

func (o *Orchestrator) emit(ctx context.Context, taskID, event string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event"] = event
	o.bus.Emit(ctx, hooks.Event{Type: hooks.PhaseChange, TaskID: taskID, Payload: payload})
}
