package archival

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakforge/devpipe/ent/learnedpattern"
	"github.com/oakforge/devpipe/pkg/errs"
)

func TestRecordPattern_SecondCallWithSameTriggerUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	first, err := svc.RecordPattern(ctx, PatternInput{
		PatternType:    learnedpattern.PatternTypeError,
		TriggerPattern: "TS2345",
		Description:    "argument type mismatch",
		ScopeRepo:      "org/a",
	})
	require.NoError(t, err)

	second, err := svc.RecordPattern(ctx, PatternInput{
		PatternType:    learnedpattern.PatternTypeError,
		TriggerPattern: "TS2345",
		Description:    "argument type mismatch against a narrower generic constraint",
		ScopeRepo:      "org/a",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Contains(t, second.Description, "narrower generic constraint")

	count, err := client.LearnedPattern.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdatePatternOutcome_RecomputesConfidenceAndPromotesToGlobalAtThreshold(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	pattern, err := svc.RecordPattern(ctx, PatternInput{
		PatternType: learnedpattern.PatternTypeConvention,
		Description: "prefer context.Context as the first parameter",
		ScopeRepo:   "org/a",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pattern.Confidence)
	assert.False(t, pattern.IsGlobal)

	updated, err := svc.UpdatePatternOutcome(ctx, pattern.ID, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/2.0, updated.Confidence, 0.0001)
	assert.False(t, updated.IsGlobal)

	// successCount=2, failureCount=0 -> confidence 2/3 = 0.667, below the
	// default 0.7 MinConfidenceForGlobal.
	updated, err = svc.UpdatePatternOutcome(ctx, pattern.ID, true)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, updated.Confidence, 0.0001)
	assert.False(t, updated.IsGlobal)

	// successCount=3, failureCount=0 -> confidence 3/4 = 0.75, crosses 0.7.
	// UpdatePatternOutcome only recomputes confidence; promotion is
	// PromoteEligible's job.
	updated, err = svc.UpdatePatternOutcome(ctx, pattern.ID, true)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/4.0, updated.Confidence, 0.0001)
	assert.False(t, updated.IsGlobal)

	_, patterns, err := svc.PromoteEligible(ctx, PromotionThresholds{MinImportanceForGlobal: 0.7, MinConfidenceForGlobal: 0.7})
	require.NoError(t, err)
	assert.Equal(t, 1, patterns)

	promoted, err := client.LearnedPattern.Get(ctx, pattern.ID)
	require.NoError(t, err)
	assert.True(t, promoted.IsGlobal)
}

func TestUpdatePatternOutcome_UnknownIDReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	svc, err := NewService(client, nil, nil)
	require.NoError(t, err)

	_, err = svc.UpdatePatternOutcome(ctx, "does-not-exist", true)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
