package archival

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakforge/devpipe/ent/archivalmemory"
	"github.com/oakforge/devpipe/pkg/errs"
)

func TestStore_PersistsContentAndComputesTokenCount(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	row, err := svc.Store(ctx, StoreInput{
		Content:    "panic: nil pointer dereference in handler.go line 42",
		SourceType: archivalmemory.SourceTypeObservation,
		Repo:       "org/repo",
		TaskID:     "task-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)
	assert.Greater(t, *row.TokenCount, 0)
	assert.Equal(t, 0.5, row.ImportanceScore)
	assert.Equal(t, 0, row.AccessCount)
}

func TestStore_RejectsEmptyContent(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	_, err = svc.Store(ctx, StoreInput{Content: "   ", SourceType: archivalmemory.SourceTypeObservation})
	require.Error(t, err)
}

func TestGet_BumpsAccessBookkeepingOnEveryRead(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	row, err := svc.Store(ctx, StoreInput{
		Content:    "retry with exponential backoff on transient errors",
		SourceType: archivalmemory.SourceTypeFeedback,
	})
	require.NoError(t, err)

	first, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AccessCount)

	second, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AccessCount)
	assert.NotNil(t, second.LastAccessedAt)
}

func TestGet_UnknownIDReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCleanupExpired_RemovesOnlyRowsPastExpiresAt(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	alreadyExpired := -time.Hour
	expired, err := svc.Store(ctx, StoreInput{
		Content:    "ephemeral scratch note",
		SourceType: archivalmemory.SourceTypeCheckpoint,
		TTL:        &alreadyExpired,
	})
	require.NoError(t, err)

	kept, err := svc.Store(ctx, StoreInput{
		Content:    "durable observation",
		SourceType: archivalmemory.SourceTypeObservation,
	})
	require.NoError(t, err)

	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.Get(ctx, kept.ID)
	require.NoError(t, err)

	// Idempotent: running again with nothing newly expired deletes zero rows.
	n, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
