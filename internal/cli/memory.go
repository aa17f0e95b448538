package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/oakforge/devpipe/ent"
	entobservation "github.com/oakforge/devpipe/ent/observation"
	entask "github.com/oakforge/devpipe/ent/task"
	"github.com/oakforge/devpipe/internal/wiring"
	"github.com/oakforge/devpipe/pkg/memory/archival"
)

var (
	memoryQuery       string
	memoryLimit       int
	memoryInteractive bool
)

var validMemoryQueries = map[string]bool{
	"config":       true,
	"recent_tasks": true,
	"patterns":     true,
	"decisions":    true,
}

var memoryCmd = &cobra.Command{
	Use:   "memory <repo>",
	Short: "Read-only query over a repo's three memory tiers",
	Long: `memory answers one of four read-only queries against repo's memory
(spec §6): config (static repo configuration), recent_tasks, patterns
(learned patterns in scope for repo, global or repo-scoped), or decisions
(archived 'decision'-type observations for the repo's tasks).

With --interactive, opens a line-editing REPL (history, arrow keys) in
which each line is "<repo> [query] [limit]"; an omitted query or limit keeps
its previous value, starting from --query and --limit. The repo positional
argument is not used in this mode.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMemory,
}

func init() {
	memoryCmd.Flags().StringVar(&memoryQuery, "query", "recent_tasks", "One of config, recent_tasks, patterns, decisions")
	memoryCmd.Flags().IntVar(&memoryLimit, "limit", 10, "Maximum rows to return")
	memoryCmd.Flags().BoolVarP(&memoryInteractive, "interactive", "i", false, "Open a REPL instead of running once")
}

func runMemory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := wiring.Build(ctx, appConfig, wiring.LLMSidecarAddr(),
		wiring.ResolveToken(appConfig.CodeHost.TokenEnv), wiring.ResolveToken(appConfig.IssueTracker.TokenEnv))
	if err != nil {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("memory: %w", err)}
	}
	defer app.Close()

	if memoryInteractive {
		return runMemoryREPL(ctx, app)
	}

	if len(args) != 1 {
		return &ExitCodeError{Code: 1, Err: errors.New("memory: <repo> is required outside --interactive")}
	}
	out, err := memoryQueryOnce(ctx, app, args[0], memoryQuery, memoryLimit)
	if err != nil {
		return &ExitCodeError{Code: 1, Err: fmt.Errorf("memory: %w", err)}
	}
	fmt.Println(out)
	return nil
}

// runMemoryREPL implements the deferred-no-longer interactive mode,
// grounded on haricheung-agentic-shell's cmd/agsh readline.NewEx usage: a
// history file under the user cache dir, line-by-line reads until
// exit/Ctrl-D. Each line is "<repo> [query] [limit]"; blank fields reuse
// the last value.
func runMemoryREPL(ctx context.Context, app *wiring.App) error {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	histDir := filepath.Join(cacheDir, "devpipe")
	_ = os.MkdirAll(histDir, 0o755)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "memory> ",
		HistoryFile:       filepath.Join(histDir, "memory_history"),
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return fmt.Errorf("memory: init readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("devpipe memory REPL — '<repo> [query] [limit]', exit/Ctrl-D to quit")
	repo, query, limit := "", memoryQuery, memoryLimit

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		repo = fields[0]
		if len(fields) > 1 {
			query = fields[1]
		}
		if len(fields) > 2 {
			fmt.Sscanf(fields[2], "%d", &limit)
		}
		out, err := memoryQueryOnce(ctx, app, repo, query, limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(out)
	}
}

func memoryQueryOnce(ctx context.Context, app *wiring.App, repo, query string, limit int) (string, error) {
	if !validMemoryQueries[query] {
		return "", fmt.Errorf("unknown query %q, want one of config, recent_tasks, patterns, decisions", query)
	}
	if limit <= 0 {
		limit = 10
	}

	var result any
	var err error
	switch query {
	case "config":
		result, err = memoryQueryConfig(ctx, app, repo)
	case "recent_tasks":
		result, err = memoryQueryRecentTasks(ctx, app, repo, limit)
	case "patterns":
		result, err = memoryQueryPatterns(ctx, app, repo, limit)
	case "decisions":
		result, err = memoryQueryDecisions(ctx, app, repo, limit)
	}
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(out), nil
}

func memoryQueryConfig(ctx context.Context, app *wiring.App, repo string) (any, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("repo %q must be owner/name", repo)
	}
	return app.Static.Get(ctx, owner, name)
}

func memoryQueryRecentTasks(ctx context.Context, app *wiring.App, repo string, limit int) (any, error) {
	tasks, err := app.Client.Task.Query().
		Where(entask.Repo(repo)).
		Order(ent.Desc(entask.FieldCreatedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("query recent tasks: %w", err)
	}
	return tasks, nil
}

func memoryQueryPatterns(ctx context.Context, app *wiring.App, repo string, limit int) (any, error) {
	q := archival.SearchQuery{Repo: repo, IncludeGlobal: true, TopK: limit}
	disclosure, err := app.Archival.ProgressiveDisclosure(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	return disclosure.RelatedPatterns, nil
}

func memoryQueryDecisions(ctx context.Context, app *wiring.App, repo string, limit int) (any, error) {
	obs, err := app.Client.Observation.Query().
		Where(
			entobservation.TypeEQ(entobservation.TypeDecision),
			entobservation.HasTaskWith(entask.Repo(repo)),
		).
		Order(ent.Desc(entobservation.FieldCreatedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return obs, nil
}
