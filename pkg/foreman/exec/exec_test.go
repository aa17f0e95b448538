package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_DryRunShortCircuits(t *testing.T) {
	e := NewExecutor(true)
	result, err := e.Run(context.Background(), Request{
		Command: CommandInstallDeps,
		Argv:    []string{"npm", "install"},
	})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, []string{"npm", "install"}, result.Argv)
}

func TestRun_ExecutesAllowlistedCommand(t *testing.T) {
	e := NewExecutor(false)
	result, err := e.Run(context.Background(), Request{
		Command: CommandFormat,
		Argv:    []string{"echo", "hello"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
}

func TestRun_BlocksDenylistedCommand(t *testing.T) {
	e := NewExecutor(false)
	_, err := e.Run(context.Background(), Request{
		Command: CommandCustom,
		Argv:    []string{"sudo", "rm"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Blocked: Matches blocked pattern")
}

func TestRun_BlocksRecursiveDeleteOfRoot(t *testing.T) {
	e := NewExecutor(false)
	_, err := e.Run(context.Background(), Request{
		Command: CommandCustom,
		Argv:    []string{"rm", "-rf", "/"},
	})
	require.Error(t, err)
}

func TestRun_CustomCommandRequiresAllowAndAcknowledgment(t *testing.T) {
	e := NewExecutor(true)

	_, err := e.Run(context.Background(), Request{
		Command: CommandCustom,
		Argv:    []string{"echo", "hi"},
	})
	require.Error(t, err)

	_, err = e.Run(context.Background(), Request{
		Command:             CommandCustom,
		Argv:                []string{"echo", "hi"},
		AllowCustomCommands: true,
	})
	require.Error(t, err)

	result, err := e.Run(context.Background(), Request{
		Command:             CommandCustom,
		Argv:                []string{"echo", "hi"},
		AllowCustomCommands: true,
		CustomAcknowledged:  true,
	})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
}

func TestRun_RejectsArgWithDisallowedCharacters(t *testing.T) {
	e := NewExecutor(false)
	_, err := e.Run(context.Background(), Request{
		Command: CommandFormat,
		Argv:    []string{"echo", "hi; rm -rf /"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the allowed set")
}

func TestRun_RejectsEmptyArgv(t *testing.T) {
	e := NewExecutor(false)
	_, err := e.Run(context.Background(), Request{Command: CommandFormat})
	require.Error(t, err)
}

func TestRun_NonZeroExitIsCapturedNotAnError(t *testing.T) {
	e := NewExecutor(false)
	result, err := e.Run(context.Background(), Request{
		Command: CommandFormat,
		Argv:    []string{"false"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestBoundedWriter_TruncatesAtLimit(t *testing.T) {
	e := NewExecutor(false)
	result, err := e.Run(context.Background(), Request{
		Command: CommandFormat,
		Argv:    []string{"head", "-c", "20000", "/dev/zero"},
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Stdout), maxCapturedBytes+len("...[truncated]"))
	assert.True(t, strings.HasSuffix(result.Stdout, "...[truncated]"))
}
