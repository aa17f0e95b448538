package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oakforge/devpipe/ent"
	entprogress "github.com/oakforge/devpipe/ent/progressentry"
	"github.com/oakforge/devpipe/internal/wiring"
)

const statusProgressLimit = 10

var statusCmd = &cobra.Command{
	Use:   "status <taskId>",
	Short: "Show phase, attempt counters, last error, PR link, and recent progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	ctx := cmd.Context()

	app, err := wiring.Build(ctx, appConfig, wiring.LLMSidecarAddr(),
		wiring.ResolveToken(appConfig.CodeHost.TokenEnv), wiring.ResolveToken(appConfig.IssueTracker.TokenEnv))
	if err != nil {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("status: %w", err)}
	}
	defer app.Close()

	t, err := app.Client.Task.Get(ctx, taskID)
	if err != nil {
		if ent.IsNotFound(err) {
			return &ExitCodeError{Code: 1, Err: fmt.Errorf("status: no task %s", taskID)}
		}
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("status: %w", err)}
	}

	entries, err := app.Client.ProgressEntry.Query().
		Where(entprogress.TaskID(taskID)).
		Order(ent.Desc(entprogress.FieldSequence)).
		Limit(statusProgressLimit).
		All(ctx)
	if err != nil {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("status: load progress log: %w", err)}
	}

	out, err := json.MarshalIndent(map[string]any{
		"taskId":       t.ID,
		"status":       t.Status,
		"attemptCount": t.AttemptCount,
		"maxAttempts":  t.MaxAttempts,
		"lastError":    t.LastError,
		"prUrl":        t.PrURL,
		"progressLog":  entries,
	}, "", "  ")
	if err != nil {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("status: marshal result: %w", err)}
	}
	fmt.Println(string(out))
	return nil
}
