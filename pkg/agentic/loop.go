// Package agentic implements the Agentic Loop (spec §4.7): the
// reflect → decide(fix/replan/abort) → bounded-iteration self-correction
// cycle that runs after a failed validation. The iteration/budget
// bookkeeping is grounded on the teacher's agent.IterationState
// (pkg/agent/iteration.go) and its ReAct/iterating controller loops.
package agentic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/attemptrecord"
	"github.com/oakforge/devpipe/pkg/hooks"
	"github.com/oakforge/devpipe/pkg/validator"
)

// RootCause is the Reflector's diagnosis of what actually broke.
type RootCause string

const (
	RootCausePlan        RootCause = "plan"
	RootCauseCode        RootCause = "code"
	RootCauseTest        RootCause = "test"
	RootCauseEnvironment RootCause = "environment"
)

// Recommendation is the Reflector's proposed next action.
type Recommendation string

const (
	RecommendReplan Recommendation = "replan"
	RecommendFix    Recommendation = "fix"
	RecommendAbort  Recommendation = "abort"
)

// Reflection is the side-effect-free output of one reflect step.
type Reflection struct {
	Diagnosis      string
	RootCause      RootCause
	Recommendation Recommendation
	Feedback       string
	Confidence     float64
}

// AttemptSummary is one prior attempt, as fed back into Reflect so it can
// reason about what has already been tried.
type AttemptSummary struct {
	Iteration int
	Action    string
	Result    string
	Error     string
}

// Input is the per-run context the Loop reflects and acts against.
type Input struct {
	Issue         string
	Plan          []string
	CurrentDiff   string
	TestOutput    string
	PriorAttempts []AttemptSummary
}

// Config bounds the Loop's iteration and replan budgets.
type Config struct {
	MaxIterations       int
	MaxReplans          int
	ConfidenceThreshold float64
}

// Reflector produces a Reflection from the current state. Must be
// side-effect-free: called repeatedly with accumulating PriorAttempts.
type Reflector interface {
	Reflect(ctx context.Context, input Input) (Reflection, error)
}

// Planner re-plans given the issue body with reflection feedback merged
// in, returning a new ordered plan.
type Planner interface {
	Replan(ctx context.Context, issueWithFeedback string) ([]string, error)
}

// Fixer produces a revised diff from reflection feedback and the
// previous test output.
type Fixer interface {
	Fix(ctx context.Context, diff, feedback, testOutput string) (string, error)
}

// Recheck re-validates a candidate diff, matching validator.Runner.Run's
// signature so a *validator.Runner satisfies this directly.
type Recheck interface {
	Run(ctx context.Context, target validator.Target) *validator.Verdict
}

// Recorder appends an AttemptRecord, matching pkg/memory/session.Service's
// RecordAttempt signature so a *session.Service satisfies this directly.
type Recorder interface {
	RecordAttempt(ctx context.Context, taskID string, iteration int, action attemptrecord.Action, result attemptrecord.Result, errMsg string) (*ent.AttemptRecord, error)
}

// Result is the Loop's final report for one invocation.
type Result struct {
	Success    bool
	Iterations int
	Replans    int
	FinalDiff  string
	Reason     string
	Replanned  bool
}

// Loop drives the reflect/decide/act cycle.
type Loop struct {
	reflector Reflector
	planner   Planner
	fixer     Fixer
	recheck   Recheck
	recorder  Recorder
	bus       *hooks.Bus
}

// New constructs a Loop. bus may be nil, in which case events are not
// emitted.
func New(reflector Reflector, planner Planner, fixer Fixer, recheck Recheck, recorder Recorder, bus *hooks.Bus) *Loop {
	return &Loop{reflector: reflector, planner: planner, fixer: fixer, recheck: recheck, recorder: recorder, bus: bus}
}

// Run executes the reflect/decide/act cycle for taskID, bounded by
// config.MaxIterations and config.MaxReplans.
func (l *Loop) Run(ctx context.Context, taskID string, input Input, config Config) (*Result, error) {
	replans := countPriorReplans(input.PriorAttempts)
	currentDiff := input.CurrentDiff
	testOutput := input.TestOutput
	attempts := append([]AttemptSummary{}, input.PriorAttempts...)

	for iteration := 1; iteration <= config.MaxIterations; iteration++ {
		reflectInput := input
		reflectInput.CurrentDiff = currentDiff
		reflectInput.TestOutput = testOutput
		reflectInput.PriorAttempts = attempts

		reflection, err := l.reflector.Reflect(ctx, reflectInput)
		if err != nil {
			return nil, fmt.Errorf("agentic: reflect: %w", err)
		}
		l.emit(ctx, taskID, "reflector", "REFLECTION_COMPLETE", map[string]any{
			"iteration":      iteration,
			"recommendation": string(reflection.Recommendation),
			"confidence":     reflection.Confidence,
		})

		if reflection.Confidence < config.ConfidenceThreshold {
			slog.Warn("agentic loop: low-confidence reflection", "task_id", taskID, "iteration", iteration, "confidence", reflection.Confidence)
		}

		switch reflection.Recommendation {
		case RecommendAbort:
			l.emitIterationComplete(ctx, taskID, iteration, replans, false)
			return &Result{Success: false, Iterations: iteration, Replans: replans, Reason: reflection.Diagnosis}, nil

		case RecommendReplan:
			if replans < config.MaxReplans {
				mergedIssue := mergeFeedback(input.Issue, reflection.Feedback)
				_, planErr := l.planner.Replan(ctx, mergedIssue)
				replans++

				action, result, errMsg := attemptrecord.ActionPlan, attemptrecord.ResultSuccess, ""
				if planErr != nil {
					result, errMsg = attemptrecord.ResultFailure, planErr.Error()
				}
				l.recordAttempt(ctx, taskID, iteration, action, result, errMsg)
				attempts = append(attempts, AttemptSummary{Iteration: iteration, Action: "plan", Result: string(result), Error: errMsg})

				l.emit(ctx, taskID, "planner", "REPLAN_TRIGGERED", map[string]any{"iteration": iteration, "replans": replans})
				l.emitIterationComplete(ctx, taskID, iteration, replans, false)

				if planErr != nil {
					return nil, fmt.Errorf("agentic: replan: %w", planErr)
				}
				return &Result{Success: false, Iterations: iteration, Replans: replans, Replanned: true, Reason: "replanned"}, nil
			}
			// Replan budget exhausted — fall through to fix.
			fallthrough

		case RecommendFix:
			newDiff, fixErr := l.fixer.Fix(ctx, currentDiff, reflection.Feedback, testOutput)

			action, result, errMsg := attemptrecord.ActionFix, attemptrecord.ResultSuccess, ""
			if fixErr != nil {
				result, errMsg = attemptrecord.ResultFailure, fixErr.Error()
			}
			l.recordAttempt(ctx, taskID, iteration, action, result, errMsg)
			attempts = append(attempts, AttemptSummary{Iteration: iteration, Action: "fix", Result: string(result), Error: errMsg})

			l.emit(ctx, taskID, "fixer", "FIX_ATTEMPTED", map[string]any{"iteration": iteration})

			if fixErr != nil {
				l.emitIterationComplete(ctx, taskID, iteration, replans, false)
				return nil, fmt.Errorf("agentic: fix: %w", fixErr)
			}
			currentDiff = newDiff

			verdict := l.recheck.Run(ctx, validator.Target{Diff: currentDiff})
			if verdict.Status == "passed" {
				l.emitIterationComplete(ctx, taskID, iteration, replans, true)
				return &Result{Success: true, Iterations: iteration, Replans: replans, FinalDiff: currentDiff}, nil
			}
			testOutput = verdict.FixStrategy
			l.emitIterationComplete(ctx, taskID, iteration, replans, false)
		}
	}

	return &Result{Success: false, Iterations: config.MaxIterations, Replans: replans, FinalDiff: currentDiff, Reason: "max_iterations_exceeded"}, nil
}

func (l *Loop) recordAttempt(ctx context.Context, taskID string, iteration int, action attemptrecord.Action, result attemptrecord.Result, errMsg string) {
	if l.recorder == nil {
		return
	}
	if _, err := l.recorder.RecordAttempt(ctx, taskID, iteration, action, result, errMsg); err != nil {
		slog.Error("agentic loop: failed to record attempt", "task_id", taskID, "iteration", iteration, "error", err)
	}
}

func (l *Loop) emit(ctx context.Context, taskID, agent, event string, payload map[string]any) {
	if l.bus == nil {
		return
	}
	payload["event"] = event
	l.bus.Emit(ctx, hooks.Event{Type: hooks.AgentEnd, TaskID: taskID, Agent: agent, Payload: payload})
}

func (l *Loop) emitIterationComplete(ctx context.Context, taskID string, iteration, replans int, success bool) {
	l.emit(ctx, taskID, "agentic_loop", "ITERATION_COMPLETE", map[string]any{
		"iteration": iteration,
		"replans":   replans,
		"success":   success,
	})
}

// countPriorReplans seeds the loop's replan budget from AttemptHistory so
// it survives across Process re-invocations: each coding/validating cycle
// calls Run fresh, but a "plan" AttemptRecord from an earlier cycle still
// counts against config.MaxReplans (spec §8 scenario 4).
func countPriorReplans(prior []AttemptSummary) int {
	n := 0
	for _, a := range prior {
		if a.Action == "plan" {
			n++
		}
	}
	return n
}

func mergeFeedback(issue, feedback string) string {
	if feedback == "" {
		return issue
	}
	return issue + "\n\n--- Agentic Loop feedback ---\n" + feedback
}
