package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/sessionmemory"
	entask "github.com/oakforge/devpipe/ent/task"
	"github.com/oakforge/devpipe/pkg/memory/session"
)

// SubTaskSpec is one decomposed unit of work, with dependencies expressed
// as indices into the same decomposition batch.
type SubTaskSpec struct {
	Title       string
	Body        string
	TargetFiles []string
	DependsOn   []int
}

// Decomposer splits a parent plan into XS/S sub-tasks with an acyclic
// dependency graph (spec §4.9). Only invoked for parents whose estimated
// complexity is at or above Config.OrchestrationThreshold.
type Decomposer interface {
	Decompose(ctx context.Context, plan []string, targetFiles []string) ([]SubTaskSpec, error)
}

// AggregateInput is what the Aggregator merges: each sub-task's final diff,
// keyed by child task id, in ascending sub-task index order.
type AggregateInput struct {
	Repo         string
	ParentTitle  string
	SubTaskIDs   []string // ascending index order
	SubTaskDiffs map[string]string
}

// AggregateResult is the Aggregator's merged output (spec §4.10).
type AggregateResult struct {
	Diff      string
	Conflicts map[string][]string // path -> conflicting sub-task ids
	PRBody    string
}

// Aggregator merges completed sub-task diffs into the single artifact that
// proceeds to Foreman/PR. Satisfied by *aggregator.Aggregator.
type Aggregator interface {
	Aggregate(ctx context.Context, input AggregateInput) (AggregateResult, error)
}

// orchestrationBlock is the JSON shape stored in SessionMemory.orchestration
// for a fanned-out parent.
type orchestrationBlock struct {
	Strategy string              `json:"strategy"`
	Children []string            `json:"children"`
	Edges    map[string][]string `json:"edges"` // child id -> ids it depends on
}

// runOrchestratedCoding decomposes t's plan into sub-tasks, runs them to
// completion in dependency order (or concurrently, when none depend on
// another), and aggregates their diffs into the single artifact that
// proceeds to validation. A sub-task is never itself orchestrated — the
// Task schema's is_orchestrated flag is left false on every child.
func (o *Orchestrator) runOrchestratedCoding(ctx context.Context, t *ent.Task) (string, error) {
	specs, err := o.decomposer.Decompose(ctx, t.Plan, t.TargetFiles)
	if err != nil {
		return "", fmt.Errorf("decompose: %w", err)
	}
	if len(specs) == 0 {
		return "", fmt.Errorf("decomposer returned no sub-tasks for an orchestrated parent")
	}

	childIDs, err := o.createSubTasks(ctx, t, specs)
	if err != nil {
		return "", err
	}

	strategy := chooseStrategy(specs)
	block := orchestrationBlock{Strategy: strategy, Children: childIDs, Edges: map[string][]string{}}
	for i, spec := range specs {
		deps := make([]string, 0, len(spec.DependsOn))
		for _, d := range spec.DependsOn {
			deps = append(deps, childIDs[d])
		}
		block.Edges[childIDs[i]] = deps
	}
	if err := o.saveOrchestrationBlock(ctx, t.ID, block); err != nil {
		return "", err
	}

	diffs, err := o.runSubTasks(ctx, specs, childIDs, strategy)
	if err != nil {
		return "", err
	}

	result, err := o.aggregator.Aggregate(ctx, AggregateInput{
		Repo:         t.Repo,
		ParentTitle:  t.Title,
		SubTaskIDs:   childIDs,
		SubTaskDiffs: diffs,
	})
	if err != nil {
		return "", fmt.Errorf("aggregate sub-task diffs: %w", err)
	}

	if err := o.sessionSvc.SetAgentOutput(ctx, t.ID, "pr_body", result.PRBody); err != nil {
		return "", fmt.Errorf("record aggregated pr body: %w", err)
	}
	if len(result.Conflicts) > 0 {
		if _, err := o.sessionSvc.AppendProgress(ctx, t.ID, "aggregation_conflicts", progressInputForConflicts(result.Conflicts)); err != nil {
			return "", fmt.Errorf("append conflict progress: %w", err)
		}
	}

	return result.Diff, nil
}

func (o *Orchestrator) createSubTasks(ctx context.Context, parent *ent.Task, specs []SubTaskSpec) ([]string, error) {
	ids := make([]string, len(specs))
	for i, spec := range specs {
		id := fmt.Sprintf("%s-sub-%d", parent.ID, i)
		idx := i
		_, err := o.client.Task.Create().
			SetID(id).
			SetRepo(parent.Repo).
			SetIssueNumber(parent.IssueNumber).
			SetTitle(spec.Title).
			SetBody(spec.Body).
			SetTargetFiles(spec.TargetFiles).
			SetParentTaskID(parent.ID).
			SetSubtaskIndex(idx).
			SetIsOrchestrated(false).
			SetStatus(entask.StatusNew).
			SetMaxAttempts(parent.MaxAttempts).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("create sub-task %d: %w", i, err)
		}
		if _, err := o.sessionSvc.Create(ctx, id, map[string]any{
			"repo": parent.Repo, "title": spec.Title, "parent_task_id": parent.ID,
		}); err != nil {
			return nil, fmt.Errorf("create sub-task session memory %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func (o *Orchestrator) saveOrchestrationBlock(ctx context.Context, parentID string, block orchestrationBlock) error {
	raw := map[string]any{
		"strategy": block.Strategy,
		"children": block.Children,
		"edges":    block.Edges,
	}
	if err := o.client.SessionMemory.Update().
		Where(sessionmemory.TaskID(parentID)).
		SetOrchestration(raw).
		Exec(ctx); err != nil {
		return fmt.Errorf("save orchestration block: %w", err)
	}
	return nil
}

// chooseStrategy picks direct/sequential/parallel_merge per spec §4.9:
// parallel_merge only when no sub-task depends on another.
func chooseStrategy(specs []SubTaskSpec) string {
	if len(specs) == 1 {
		return "direct"
	}
	for _, s := range specs {
		if len(s.DependsOn) > 0 {
			return "sequential"
		}
	}
	return "parallel_merge"
}

// runSubTasks executes children per strategy and returns each child's final
// diff keyed by child task id.
func (o *Orchestrator) runSubTasks(ctx context.Context, specs []SubTaskSpec, childIDs []string, strategy string) (map[string]string, error) {
	diffs := make(map[string]string, len(childIDs))

	if strategy != "parallel_merge" {
		order, err := topologicalOrder(specs)
		if err != nil {
			return nil, err
		}
		for _, i := range order {
			diff, err := o.children.RunChild(ctx, childIDs[i])
			if err != nil {
				return nil, fmt.Errorf("sub-task %s failed: %w", childIDs[i], err)
			}
			diffs[childIDs[i]] = diff
		}
		return diffs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	results := make([]string, len(childIDs))
	for i := range childIDs {
		i := i
		g.Go(func() error {
			diff, err := o.children.RunChild(gctx, childIDs[i])
			if err != nil {
				return fmt.Errorf("sub-task %s failed: %w", childIDs[i], err)
			}
			results[i] = diff
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range childIDs {
		diffs[id] = results[i]
	}
	return diffs, nil
}

// topologicalOrder returns a Kahn's-algorithm ordering of sub-task indices
// respecting DependsOn edges. The dependency graph is required to be
// acyclic (spec §4.9); a cycle is a decomposer bug, surfaced as an error
// rather than silently dropped.
func topologicalOrder(specs []SubTaskSpec) ([]int, error) {
	n := len(specs)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, s := range specs {
		indegree[i] = len(s.DependsOn)
		for _, d := range s.DependsOn {
			dependents[d] = append(dependents[d], i)
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	sort.Ints(queue)

	order := make([]int, 0, n)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Ints(queue)
			}
		}
	}

	if len(order) != n {
		return nil, fmt.Errorf("dependency graph has a cycle")
	}
	return order, nil
}

func progressInputForConflicts(conflicts map[string][]string) session.ProgressInput {
	return session.ProgressInput{
		OutputSummary: fmt.Sprintf("%d conflicting path(s) across sub-tasks", len(conflicts)),
		Metadata:      map[string]any{"conflicts": conflicts},
	}
}
