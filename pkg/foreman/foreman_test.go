package foreman

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execpkg "github.com/oakforge/devpipe/pkg/foreman/exec"
)

type fakeCloner struct{ err error }

func (f fakeCloner) Clone(ctx context.Context, repoURL, branch, dir string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n\ngo 1.25\n"), 0644)
}

type fakeApplier struct{ err error }

func (f fakeApplier) Apply(ctx context.Context, dir, diff string) error { return f.err }

func TestDetectPackageManager(t *testing.T) {
	t.Run("go.mod", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0644))
		assert.Equal(t, PackageManagerGoMod, DetectPackageManager(dir))
	})

	t.Run("pnpm lock wins over package.json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pnpm-lock.yaml"), []byte(""), 0644))
		assert.Equal(t, PackageManagerPNPM, DetectPackageManager(dir))
	})

	t.Run("no markers falls back to none", func(t *testing.T) {
		dir := t.TempDir()
		assert.Equal(t, PackageManagerNone, DetectPackageManager(dir))
	})
}

func TestForeman_Run_SuccessCleansScratchDir(t *testing.T) {
	scratch := t.TempDir()
	f := New(execpkg.NewExecutor(true), fakeCloner{}, fakeApplier{}, DefaultPhaseTimeouts(), scratch)

	outcome := f.Run(context.Background(), Task{RepoURL: "https://example.com/r.git", Branch: "main", Diff: "diff"})

	require.True(t, outcome.Success)
	assert.Empty(t, outcome.WorkDir)
	assert.NoError(t, outcome.Err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestForeman_Run_FailurePreservesWorkDirForForensics(t *testing.T) {
	scratch := t.TempDir()
	f := New(execpkg.NewExecutor(true), fakeCloner{}, fakeApplier{err: assertErr}, DefaultPhaseTimeouts(), scratch)

	outcome := f.Run(context.Background(), Task{RepoURL: "https://example.com/r.git", Branch: "main", Diff: "diff"})

	require.False(t, outcome.Success)
	require.NotEmpty(t, outcome.WorkDir)
	_, statErr := os.Stat(outcome.WorkDir)
	assert.NoError(t, statErr)
}

func TestForeman_Run_CloneFailureStopsPipeline(t *testing.T) {
	scratch := t.TempDir()
	f := New(execpkg.NewExecutor(true), fakeCloner{err: assertErr}, fakeApplier{}, DefaultPhaseTimeouts(), scratch)

	outcome := f.Run(context.Background(), Task{})

	require.False(t, outcome.Success)
	assert.Empty(t, outcome.Phases)
}

func TestForeman_Run_RunsDetectedPhasesInOrder(t *testing.T) {
	scratch := t.TempDir()
	f := New(execpkg.NewExecutor(true), fakeCloner{}, fakeApplier{}, PhaseTimeouts{
		Clone: time.Second, Apply: time.Second, Install: time.Second, TypeCheck: time.Second, Test: time.Second,
	}, scratch)

	outcome := f.Run(context.Background(), Task{})

	require.True(t, outcome.Success)
	require.Len(t, outcome.Phases, 3)
	assert.Equal(t, "install", outcome.Phases[0].Phase)
	assert.Equal(t, "type-check", outcome.Phases[1].Phase)
	assert.Equal(t, "test", outcome.Phases[2].Phase)
	assert.True(t, outcome.Phases[2].Result.DryRun)
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "simulated failure" }
