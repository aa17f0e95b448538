package session

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/attemptrecord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestService(t *testing.T) (*Service, *ent.Client) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	client := ent.NewClient(ent.Driver(drv))
	require.NoError(t, client.Schema.Create(ctx))
	t.Cleanup(func() { client.Close() })

	_, err = client.Task.Create().
		SetID("test-task").
		SetRepo("org/r").
		SetIssueNumber(1).
		SetTitle("t").
		SetBody("b").
		Save(ctx)
	require.NoError(t, err)

	return NewService(client), client
}

func TestCreateAndLoad(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Create(ctx, "test-task", map[string]any{"target_files": []any{"a.go"}})
	require.NoError(t, err)
	assert.Equal(t, "test-task", mem.TaskID)

	loaded, err := svc.Load(ctx, "test-task")
	require.NoError(t, err)
	assert.Equal(t, mem.ID, loaded.ID)
}

func TestAppendProgress_SequenceIsMonotonic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "test-task", nil)
	require.NoError(t, err)

	e1, err := svc.AppendProgress(ctx, "test-task", "task_start", ProgressInput{Agent: "orchestrator"})
	require.NoError(t, err)
	assert.Equal(t, 1, e1.Sequence)

	e2, err := svc.AppendProgress(ctx, "test-task", "agent_start", ProgressInput{Agent: "planner"})
	require.NoError(t, err)
	assert.Equal(t, 2, e2.Sequence)

	entries, err := svc.ListProgress(ctx, "test-task")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Sequence)
	assert.Equal(t, 2, entries[1].Sequence)
}

func TestCheckpointRollback_PreservesHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "test-task", nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetPhase(ctx, "test-task", "planning"))
	require.NoError(t, svc.SetAgentOutput(ctx, "test-task", "plan", []string{"step 1"}))

	cp, err := svc.SaveCheckpoint(ctx, "test-task", "pre-coding")
	require.NoError(t, err)

	require.NoError(t, svc.SetPhase(ctx, "test-task", "coding"))
	require.NoError(t, svc.SetAgentOutput(ctx, "test-task", "diff", "--- a\n+++ b\n"))

	_, err = svc.AppendProgress(ctx, "test-task", "agent_end", ProgressInput{Agent: "coder"})
	require.NoError(t, err)
	_, err = svc.RecordAttempt(ctx, "test-task", 1, attemptrecord.ActionCode, attemptrecord.ResultSuccess, "")
	require.NoError(t, err)

	restored, err := svc.RollbackTo(ctx, "test-task", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "planning", string(restored.Phase))
	assert.NotContains(t, restored.AgentOutputs, "diff")

	// Progress and attempt history survive the rollback untouched.
	progress, err := svc.ListProgress(ctx, "test-task")
	require.NoError(t, err)
	assert.Len(t, progress, 1)

	attempts, err := svc.ListAttempts(ctx, "test-task")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)

	checkpoints, err := svc.ListCheckpoints(ctx, "test-task")
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)
}
