package foreman

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	execpkg "github.com/oakforge/devpipe/pkg/foreman/exec"
)

// GitCloner is the production Cloner: a shallow, single-branch `git
// clone` routed through the Command Executor like every other Foreman
// subprocess.
type GitCloner struct {
	executor *execpkg.Executor
}

// NewGitCloner constructs a GitCloner backed by executor.
func NewGitCloner(executor *execpkg.Executor) *GitCloner {
	return &GitCloner{executor: executor}
}

// Clone checks out repoURL at branch into dir, which must already exist
// and be empty (git refuses to clone into a non-empty directory).
func (g *GitCloner) Clone(ctx context.Context, repoURL, branch, dir string) error {
	result, err := g.executor.Run(ctx, execpkg.Request{
		Command:             execpkg.CommandCustom,
		Argv:                []string{"git", "clone", "--depth=1", "--branch", branch, repoURL, dir},
		AllowCustomCommands: true,
		CustomAcknowledged:  true,
	})
	if err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git clone failed (exit %d): %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// GitApplier is the production PatchApplier: writes diff to a temp file
// inside dir and runs `git apply` against it.
type GitApplier struct {
	executor *execpkg.Executor
}

// NewGitApplier constructs a GitApplier backed by executor.
func NewGitApplier(executor *execpkg.Executor) *GitApplier {
	return &GitApplier{executor: executor}
}

// Apply writes diff to a scratch file under dir and applies it with git.
func (g *GitApplier) Apply(ctx context.Context, dir, diff string) error {
	patchPath := filepath.Join(dir, ".devpipe-candidate.patch")
	if err := os.WriteFile(patchPath, []byte(diff), 0o600); err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}
	defer os.Remove(patchPath)

	result, err := g.executor.Run(ctx, execpkg.Request{
		Command:             execpkg.CommandCustom,
		Argv:                []string{"git", "apply", "--whitespace=fix", patchPath},
		WorkDir:             dir,
		AllowCustomCommands: true,
		CustomAcknowledged:  true,
	})
	if err != nil {
		return fmt.Errorf("git apply: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git apply failed (exit %d): %s", result.ExitCode, result.Stderr)
	}
	return nil
}
