// Package aggregator merges completed sub-task diffs into the single
// artifact that proceeds to validation and PR creation (spec §4.10),
// grounded on the teacher's agent/orchestrator.ResultCollector join
// pattern (collector.go): many independent producers drained into one
// ordered result.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/oakforge/devpipe/pkg/orchestrator"
	"github.com/oakforge/devpipe/pkg/patch"
)

// Aggregator merges sub-task diffs with a last-write-wins policy applied
// in ascending sub-task id order, per spec §4.10. The zero value is
// ready to use.
type Aggregator struct{}

// New constructs an Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

type fileWinner struct {
	file  patch.FileChange
	subID string
}

// Aggregate satisfies orchestrator.Aggregator. It parses every sub-task's
// diff, detects conflicts (a path touched by more than one sub-task),
// applies last-write-wins in input.SubTaskIDs order, and assembles a
// combined unified diff plus a PR body enumerating sub-tasks, conflicts,
// and modified files. Original per-sub-task diffs are never rewritten —
// input.SubTaskDiffs is read-only here.
func (a *Aggregator) Aggregate(ctx context.Context, input orchestrator.AggregateInput) (orchestrator.AggregateResult, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.AggregateResult{}, err
	}

	byPath := map[string]fileWinner{}
	touchedBy := map[string][]string{}
	var pathOrder []string
	seen := map[string]bool{}

	for _, id := range input.SubTaskIDs {
		diff, ok := input.SubTaskDiffs[id]
		if !ok || strings.TrimSpace(diff) == "" {
			continue
		}
		files, err := patch.ParseFiles(diff)
		if err != nil {
			return orchestrator.AggregateResult{}, fmt.Errorf("aggregator: parse sub-task %s diff: %w", id, err)
		}
		for _, f := range files {
			path := f.Path()
			touchedBy[path] = append(touchedBy[path], id)
			if !seen[path] {
				seen[path] = true
				pathOrder = append(pathOrder, path)
			}
			// Ascending sub-task order means the last assignment here is
			// the last-write-wins survivor.
			byPath[path] = fileWinner{file: f, subID: id}
		}
	}

	sort.Strings(pathOrder)

	conflicts := map[string][]string{}
	for path, ids := range touchedBy {
		if len(ids) > 1 {
			conflicts[path] = ids
		}
	}

	var diffOut strings.Builder
	for _, path := range pathOrder {
		diffOut.WriteString(patch.Render(byPath[path].file))
	}

	prBody, err := buildPRBody(input, pathOrder, byPath, conflicts)
	if err != nil {
		return orchestrator.AggregateResult{}, fmt.Errorf("aggregator: build pr body: %w", err)
	}

	return orchestrator.AggregateResult{
		Diff:      diffOut.String(),
		Conflicts: conflicts,
		PRBody:    prBody,
	}, nil
}

// buildPRBody assembles the structured metadata block with sjson (spec
// §4.10's "structured list of file changes with source sub-task
// attribution") and wraps it in a human-readable markdown summary.
func buildPRBody(input orchestrator.AggregateInput, pathOrder []string, byPath map[string]fileWinner, conflicts map[string][]string) (string, error) {
	meta := "{}"
	var err error
	if meta, err = sjson.Set(meta, "parentTitle", input.ParentTitle); err != nil {
		return "", err
	}
	if meta, err = sjson.Set(meta, "subTaskIds", input.SubTaskIDs); err != nil {
		return "", err
	}
	if meta, err = sjson.Set(meta, "modifiedFiles", pathOrder); err != nil {
		return "", err
	}
	conflictPaths := make([]string, 0, len(conflicts))
	for path := range conflicts {
		conflictPaths = append(conflictPaths, path)
	}
	sort.Strings(conflictPaths)
	if meta, err = sjson.Set(meta, "conflicts", conflictPaths); err != nil {
		return "", err
	}

	var md strings.Builder
	fmt.Fprintf(&md, "## %s (orchestrated, %d sub-task(s))\n\n", input.ParentTitle, len(input.SubTaskIDs))
	for _, id := range input.SubTaskIDs {
		fmt.Fprintf(&md, "- `%s`\n", id)
	}

	md.WriteString("\n### Modified files\n")
	for _, path := range pathOrder {
		fmt.Fprintf(&md, "- `%s` (from `%s`)\n", path, byPath[path].subID)
	}

	if len(conflictPaths) > 0 {
		md.WriteString("\n### Conflicts (last sub-task wins)\n")
		for _, path := range conflictPaths {
			fmt.Fprintf(&md, "- `%s`: touched by %s\n", path, strings.Join(conflicts[path], ", "))
		}
	}

	md.WriteString("\n<details><summary>structured metadata</summary>\n\n```json\n")
	md.WriteString(meta)
	md.WriteString("\n```\n</details>\n")

	return md.String(), nil
}
