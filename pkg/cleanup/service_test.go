package cleanup

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/archivalmemory"
	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/memory/archival"
)

func newTestClient(t *testing.T) *ent.Client {
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

	return client
}

func testRetentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		TaskRetentionDays:      365,
		HookEventTTL:           time.Hour,
		CleanupInterval:        time.Hour,
		MinImportanceForGlobal: 0.8,
		MinConfidenceForGlobal: 0.8,
	}
}

func TestService_RemovesExpiredArchivalRows(t *testing.T) {
	client := newTestClient(t)
	archivalSvc, err := archival.NewService(client, nil, testRetentionConfig())
	require.NoError(t, err)
	ctx := context.Background()

	ttl := -time.Hour // already expired
	_, err = archivalSvc.Store(ctx, archival.StoreInput{
		Content:    "stale observation",
		SourceType: archivalmemory.SourceTypeObservation,
		TTL:        &ttl,
	})
	require.NoError(t, err)

	keepTTL := time.Hour
	fresh, err := archivalSvc.Store(ctx, archival.StoreInput{
		Content:    "fresh observation",
		SourceType: archivalmemory.SourceTypeObservation,
		TTL:        &keepTTL,
	})
	require.NoError(t, err)

	svc := NewService(testRetentionConfig(), archivalSvc)
	svc.runAll(ctx)

	count, err := client.ArchivalMemory.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = client.ArchivalMemory.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestService_CleansUpStaleTaskScopedMemories(t *testing.T) {
	client := newTestClient(t)
	archivalSvc, err := archival.NewService(client, nil, testRetentionConfig())
	require.NoError(t, err)
	ctx := context.Background()

	taskID := uuid.NewString()
	old, err := archivalSvc.Store(ctx, archival.StoreInput{
		Content:    "old task memory",
		SourceType: archivalmemory.SourceTypeObservation,
		TaskID:     taskID,
	})
	require.NoError(t, err)
	require.NoError(t, client.ArchivalMemory.UpdateOneID(old.ID).
		SetCreatedAt(time.Now().AddDate(-2, 0, 0)).Exec(ctx))

	cfg := testRetentionConfig()
	cfg.TaskRetentionDays = 30
	svc := NewService(cfg, archivalSvc)
	svc.runAll(ctx)

	_, err = client.ArchivalMemory.Get(ctx, old.ID)
	assert.True(t, ent.IsNotFound(err))
}

func TestService_PromotesEligibleMemoriesAndPatterns(t *testing.T) {
	client := newTestClient(t)
	archivalSvc, err := archival.NewService(client, nil, testRetentionConfig())
	require.NoError(t, err)
	ctx := context.Background()

	row, err := archivalSvc.Store(ctx, archival.StoreInput{
		Content:         "important learning",
		SourceType:      archivalmemory.SourceTypeObservation,
		TaskID:          uuid.NewString(),
		ImportanceScore: 0.95,
	})
	require.NoError(t, err)

	pattern, err := archivalSvc.RecordPattern(ctx, archival.PatternInput{
		PatternType: "convention",
		Description: "use early returns",
		Repo:        "org/repo",
	})
	require.NoError(t, err)
	pattern, err = archivalSvc.UpdatePatternOutcome(ctx, pattern.ID, true)
	require.NoError(t, err)
	for pattern.Confidence < 0.8 {
		pattern, err = archivalSvc.UpdatePatternOutcome(ctx, pattern.ID, true)
		require.NoError(t, err)
	}

	svc := NewService(testRetentionConfig(), archivalSvc)
	svc.runAll(ctx)

	promotedRow, err := client.ArchivalMemory.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, promotedRow.IsGlobal)
	assert.Nil(t, promotedRow.TaskID)

	promotedPattern, err := client.LearnedPattern.Get(ctx, pattern.ID)
	require.NoError(t, err)
	assert.True(t, promotedPattern.IsGlobal)
	assert.Nil(t, promotedPattern.ScopeRepo)
}
