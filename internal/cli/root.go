// Package cli implements devpipe's operational CLI surface (spec §6):
// execute, status, memory, plus a serve command that runs the webhook
// intake API and the task dispatch pool. Grounded on
// alanmeadows-otto/internal/cli's cobra layout — one file per subcommand,
// a package-level rootCmd wired in init(), a shared PersistentPreRunE that
// loads configuration once before any subcommand runs.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oakforge/devpipe/pkg/config"
)

var (
	configDir string
	verbose   bool
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "devpipe",
		Short: "Autonomous development pipeline: issue in, reviewed PR out",
		Long: `devpipe turns a code-host issue into a draft pull request without a
human in the loop for the common case: it plans a fix, generates a diff,
validates and sandboxes it, and opens a PR — falling back to a human
reviewer whenever a policy boundary or budget is hit.

Run 'devpipe <command> --help' for details on any subcommand.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		envPath := filepath.Join(configDir, ".env")
		if err := godotenv.Load(envPath); err != nil {
			slog.Debug("no .env file loaded", "path", envPath, "error", err)
		}

		cfg, err := config.Initialize(context.Background(), configDir)
		if err != nil {
			return fmt.Errorf("initialize configuration: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Execute runs the CLI. Exit codes follow spec §6: 0 on success, non-zero
// on validation or internal failure. Subcommands that need a distinct
// "denied/blocked command" exit code return an *ExitCodeError instead of a
// plain error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exitErr *ExitCodeError
		if ok := asExitCodeError(err, &exitErr); ok {
			return exitErr.Code
		}
		return 1
	}
	return 0
}

// ExitCodeError carries a specific process exit code. Subcommands use 1
// and 2; a command refused by the executor's denylist or custom-command
// gate has no exit code of its own.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string { return e.Err.Error() }
func (e *ExitCodeError) Unwrap() error { return e.Err }

func asExitCodeError(err error, target **ExitCodeError) bool {
	for err != nil {
		if e, ok := err.(*ExitCodeError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
