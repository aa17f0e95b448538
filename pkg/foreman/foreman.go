// Package foreman implements the sandboxed clone/apply/install/test
// pipeline (spec §4.6). It never shells out directly — every subprocess
// goes through pkg/foreman/exec's validated, denylist-checked Executor.
package foreman

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	execpkg "github.com/oakforge/devpipe/pkg/foreman/exec"
)

// PhaseTimeouts bounds how long each pipeline phase may run.
type PhaseTimeouts struct {
	Clone     time.Duration
	Apply     time.Duration
	Install   time.Duration
	TypeCheck time.Duration
	Test      time.Duration
}

// DefaultPhaseTimeouts mirrors pkg/config's ForemanConfig defaults.
func DefaultPhaseTimeouts() PhaseTimeouts {
	return PhaseTimeouts{
		Clone:     60 * time.Second,
		Apply:     30 * time.Second,
		Install:   3 * time.Minute,
		TypeCheck: 2 * time.Minute,
		Test:      5 * time.Minute,
	}
}

// Task is the unit of work the Foreman sandboxes.
type Task struct {
	RepoURL string
	Branch  string
	Diff    string
}

// PhaseResult records one phase's executor outcome.
type PhaseResult struct {
	Phase  string
	Result execpkg.Result
}

// Outcome is the Foreman's final report. WorkDir is populated only on
// failure, for forensic capture — a successful run cleans its scratch
// directory before returning.
type Outcome struct {
	Success bool
	WorkDir string
	Phases  []PhaseResult
	Err     error
}

// PackageManager names a detected install/test toolchain.
type PackageManager string

const (
	PackageManagerNPM    PackageManager = "npm"
	PackageManagerYarn   PackageManager = "yarn"
	PackageManagerPNPM   PackageManager = "pnpm"
	PackageManagerGoMod  PackageManager = "go"
	PackageManagerPip    PackageManager = "pip"
	PackageManagerBundle PackageManager = "bundler"
	PackageManagerCargo  PackageManager = "cargo"
	PackageManagerNone   PackageManager = "none"
)

// markerFiles maps each marker (lock file or manifest) to the package
// manager it implies, checked in this order so the most specific lock
// file wins over a bare manifest.
var markerFiles = []struct {
	file    string
	manager PackageManager
}{
	{"pnpm-lock.yaml", PackageManagerPNPM},
	{"yarn.lock", PackageManagerYarn},
	{"package-lock.json", PackageManagerNPM},
	{"package.json", PackageManagerNPM},
	{"go.mod", PackageManagerGoMod},
	{"Cargo.toml", PackageManagerCargo},
	{"Gemfile", PackageManagerBundle},
	{"requirements.txt", PackageManagerPip},
}

// DetectPackageManager probes repoDir for marker files, falling back to
// PackageManagerNone (a conservative no-op install) if nothing matches.
func DetectPackageManager(repoDir string) PackageManager {
	for _, m := range markerFiles {
		if _, err := os.Stat(filepath.Join(repoDir, m.file)); err == nil {
			return m.manager
		}
	}
	return PackageManagerNone
}

var installCommands = map[PackageManager][]string{
	PackageManagerNPM:    {"npm", "ci"},
	PackageManagerYarn:   {"yarn", "install", "--frozen-lockfile"},
	PackageManagerPNPM:   {"pnpm", "install", "--frozen-lockfile"},
	PackageManagerGoMod:  {"go", "mod", "download"},
	PackageManagerPip:    {"pip", "install", "-r", "requirements.txt"},
	PackageManagerBundle: {"bundle", "install"},
	PackageManagerCargo:  {"cargo", "fetch"},
}

var testCommands = map[PackageManager][]string{
	PackageManagerNPM:    {"npm", "test"},
	PackageManagerYarn:   {"yarn", "test"},
	PackageManagerPNPM:   {"pnpm", "test"},
	PackageManagerGoMod:  {"go", "test", "./..."},
	PackageManagerPip:    {"python3", "-m", "pytest"},
	PackageManagerBundle: {"bundle", "exec", "rspec"},
	PackageManagerCargo:  {"cargo", "test"},
}

var typeCheckCommands = map[PackageManager][]string{
	PackageManagerNPM:   {"npx", "tsc", "--noEmit"},
	PackageManagerYarn:  {"yarn", "tsc", "--noEmit"},
	PackageManagerPNPM:  {"pnpm", "tsc", "--noEmit"},
	PackageManagerGoMod: {"go", "vet", "./..."},
}

// Cloner checks out repoURL at branch into dir. Satisfied in production
// by a thin git wrapper; injected so tests can fake it.
type Cloner interface {
	Clone(ctx context.Context, repoURL, branch, dir string) error
}

// PatchApplier applies diff against the checkout at dir.
type PatchApplier interface {
	Apply(ctx context.Context, dir, diff string) error
}

// Foreman runs a Task through clone → apply → install → type-check →
// test, each phase bounded by its own timeout.
type Foreman struct {
	executor *execpkg.Executor
	cloner   Cloner
	applier  PatchApplier
	timeouts PhaseTimeouts
	scratch  string
}

// New constructs a Foreman. scratchRoot is the parent directory under
// which per-task scratch checkouts are created.
func New(executor *execpkg.Executor, cloner Cloner, applier PatchApplier, timeouts PhaseTimeouts, scratchRoot string) *Foreman {
	return &Foreman{executor: executor, cloner: cloner, applier: applier, timeouts: timeouts, scratch: scratchRoot}
}

// Run executes the pipeline for task, cleaning the scratch checkout on
// success and preserving it (reported via Outcome.WorkDir) on failure.
func (f *Foreman) Run(ctx context.Context, task Task) Outcome {
	workDir, err := os.MkdirTemp(f.scratch, "devpipe-sandbox-*")
	if err != nil {
		return Outcome{Success: false, Err: fmt.Errorf("foreman: create scratch dir: %w", err)}
	}

	outcome := f.runInDir(ctx, task, workDir)
	if outcome.Success {
		_ = os.RemoveAll(workDir)
		outcome.WorkDir = ""
	} else {
		outcome.WorkDir = workDir
	}
	return outcome
}

func (f *Foreman) runInDir(ctx context.Context, task Task, workDir string) Outcome {
	var phases []PhaseResult

	cloneCtx, cancel := context.WithTimeout(ctx, f.timeouts.Clone)
	err := f.cloner.Clone(cloneCtx, task.RepoURL, task.Branch, workDir)
	cancel()
	if err != nil {
		return Outcome{Success: false, Phases: phases, Err: fmt.Errorf("foreman: clone: %w", err)}
	}

	applyCtx, cancel := context.WithTimeout(ctx, f.timeouts.Apply)
	err = f.applier.Apply(applyCtx, workDir, task.Diff)
	cancel()
	if err != nil {
		return Outcome{Success: false, Phases: phases, Err: fmt.Errorf("foreman: apply diff: %w", err)}
	}

	pm := DetectPackageManager(workDir)

	if argv, ok := installCommands[pm]; ok {
		result, err := f.runPhase(ctx, "install", argv, workDir, f.timeouts.Install)
		phases = append(phases, result)
		if err != nil {
			return Outcome{Success: false, Phases: phases, Err: fmt.Errorf("foreman: install: %w", err)}
		}
	}

	if argv, ok := typeCheckCommands[pm]; ok {
		result, err := f.runPhase(ctx, "type-check", argv, workDir, f.timeouts.TypeCheck)
		phases = append(phases, result)
		if err != nil {
			return Outcome{Success: false, Phases: phases, Err: fmt.Errorf("foreman: type-check: %w", err)}
		}
	}

	if argv, ok := testCommands[pm]; ok {
		result, err := f.runPhase(ctx, "test", argv, workDir, f.timeouts.Test)
		phases = append(phases, result)
		if err != nil {
			return Outcome{Success: false, Phases: phases, Err: fmt.Errorf("foreman: test: %w", err)}
		}
	}

	return Outcome{Success: true, Phases: phases}
}

func (f *Foreman) runPhase(ctx context.Context, phase string, argv []string, workDir string, timeout time.Duration) (PhaseResult, error) {
	command := commandForPhase(phase)
	req := execpkg.Request{
		Command: command,
		Argv:    argv,
		WorkDir: workDir,
		Timeout: timeout,
	}
	if command == execpkg.CommandCustom {
		// "test" has no dedicated AllowedCommand value (spec §4.6's sum
		// type does not name one); the Foreman's own fixed testCommands
		// map is the acknowledgment, not user input.
		req.AllowCustomCommands = true
		req.CustomAcknowledged = true
	}
	result, err := f.executor.Run(ctx, req)
	pr := PhaseResult{Phase: phase, Result: result}
	if err != nil {
		return pr, err
	}
	if result.ExitCode != 0 {
		return pr, fmt.Errorf("%s failed with exit code %d", phase, result.ExitCode)
	}
	return pr, nil
}

func commandForPhase(phase string) execpkg.AllowedCommand {
	switch phase {
	case "install":
		return execpkg.CommandInstallDeps
	case "type-check":
		return execpkg.CommandTypeCheck
	default:
		return execpkg.CommandCustom
	}
}
