package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oakforge/devpipe/ent"
	entask "github.com/oakforge/devpipe/ent/task"
	"github.com/oakforge/devpipe/internal/wiring"
)

var (
	executeIssueNumber int
	executeDryRun      bool
)

var executeCmd = &cobra.Command{
	Use:   "execute <repo>",
	Short: "Enqueue a task for an issue, or run it to a dry-run diff",
	Long: `execute creates the Task for repo+issue-number. If one already exists, it
prints that task's id and does nothing else, with or without --dry-run.

For a newly created task: in normal mode it enqueues the task (status=new) for the dispatch pool and
prints the task id. In --dry-run mode it runs the task synchronously through
the Coding phase in-process and prints the resulting diff without opening a
PR (spec §6, testable property "Dry run").`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().IntVar(&executeIssueNumber, "issue", 0, "Issue number to act on (required)")
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false, "Run through Coding and print the diff; never open a PR")
	_ = executeCmd.MarkFlagRequired("issue")
}

func runExecute(cmd *cobra.Command, args []string) error {
	repo := args[0]
	ctx := cmd.Context()

	app, err := wiring.Build(ctx, appConfig, wiring.LLMSidecarAddr(),
		wiring.ResolveToken(appConfig.CodeHost.TokenEnv), wiring.ResolveToken(appConfig.IssueTracker.TokenEnv))
	if err != nil {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("execute: %w", err)}
	}
	defer app.Close()

	taskID, created, err := findOrCreateTask(ctx, app, repo, executeIssueNumber)
	if err != nil {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("execute: %w", err)}
	}
	if !created {
		fmt.Println(taskID)
		return nil
	}

	if !executeDryRun {
		fmt.Println(taskID)
		return nil
	}

	if err := app.Orchestrator.Process(ctx, taskID); err != nil {
		return &ExitCodeError{Code: 1, Err: fmt.Errorf("execute: dry run: %w", err)}
	}
	return printDryRunResult(ctx, app, taskID)
}

// findOrCreateTask implements spec §6's "re-issuing execute for the same
// (repo, issueNumber) while a non-terminal task exists returns the existing
// taskId" property, mirroring pkg/api/intake_worker.go's own
// create-or-no-op handling of the unique (repo, issue_number) index.
func findOrCreateTask(ctx context.Context, app *wiring.App, repo string, issueNumber int) (taskID string, created bool, err error) {
	existing, err := app.Client.Task.Query().
		Where(entask.Repo(repo), entask.IssueNumber(issueNumber)).
		Only(ctx)
	if err == nil {
		return existing.ID, false, nil
	}
	if !ent.IsNotFound(err) {
		return "", false, fmt.Errorf("look up existing task: %w", err)
	}

	id := uuid.NewString()
	t, err := app.Client.Task.Create().
		SetID(id).
		SetRepo(repo).
		SetIssueNumber(issueNumber).
		SetTitle(fmt.Sprintf("%s#%d", repo, issueNumber)).
		SetBody("").
		SetStatus(entask.StatusNew).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return findOrCreateTask(ctx, app, repo, issueNumber)
		}
		return "", false, fmt.Errorf("create task: %w", err)
	}

	if _, err := app.Session.Create(ctx, t.ID, map[string]any{"repo": repo, "issue_number": issueNumber}); err != nil {
		return "", false, fmt.Errorf("create session memory: %w", err)
	}
	return t.ID, true, nil
}

func printDryRunResult(ctx context.Context, app *wiring.App, taskID string) error {
	t, err := app.Client.Task.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task after dry run: %w", err)
	}
	diff := ""
	if t.CurrentDiff != nil {
		diff = *t.CurrentDiff
	}
	out, err := json.MarshalIndent(map[string]any{
		"taskId":           t.ID,
		"status":           t.Status,
		"diff":             diff,
		"definitionOfDone": t.DefinitionOfDone,
		"targetFiles":      t.TargetFiles,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dry run result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
