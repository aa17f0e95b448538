package archival

import (
	"context"
	"fmt"
	"time"

	"github.com/oakforge/devpipe/ent/archivalmemory"
	"github.com/oakforge/devpipe/ent/learnedpattern"
)

// PromotionThresholds bounds the two independent promotion operations the
// spec's Open Questions section distinguishes: archival rows promote on
// importanceScore, patterns promote on confidence. Never the same
// threshold applied to both entities.
type PromotionThresholds struct {
	MinImportanceForGlobal float64
	MinConfidenceForGlobal float64
}

// PromoteEligible promotes every task-scoped ArchivalMemory row whose
// importanceScore is at or above thresholds.MinImportanceForGlobal, and
// every repo-scoped LearnedPattern whose confidence is at or above
// thresholds.MinConfidenceForGlobal, to global scope: is_global is set and
// the task/repo binding that made the row unreachable after its owning
// task's deletion is stripped. Idempotent — already-global rows are
// excluded from both queries, so calling this again promotes nothing new
// until another row crosses its threshold.
func (s *Service) PromoteEligible(ctx context.Context, thresholds PromotionThresholds) (memories, patterns int, err error) {
	memories, err = s.client.ArchivalMemory.Update().
		Where(
			archivalmemory.IsGlobal(false),
			archivalmemory.TaskIDNotNil(),
			archivalmemory.ImportanceScoreGTE(thresholds.MinImportanceForGlobal),
		).
		SetIsGlobal(true).
		ClearTaskID().
		Save(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("archival: promote memories to global: %w", err)
	}

	patterns, err = s.client.LearnedPattern.Update().
		Where(
			learnedpattern.IsGlobal(false),
			learnedpattern.ScopeRepoNotNil(),
			learnedpattern.ConfidenceGTE(thresholds.MinConfidenceForGlobal),
		).
		SetIsGlobal(true).
		ClearScopeRepo().
		Save(ctx)
	if err != nil {
		return memories, 0, fmt.Errorf("archival: promote patterns to global: %w", err)
	}
	return memories, patterns, nil
}

// CleanupStaleTaskMemories deletes task-scoped, non-global rows older than
// retentionDays: spec §4.2's "non-global archival rows become eligible for
// cleanup" once their owning task ages out. Global rows and rows with no
// task binding are never touched here.
func (s *Service) CleanupStaleTaskMemories(ctx context.Context, retentionDays int) (int, error) {
	n, err := s.client.ArchivalMemory.Delete().
		Where(
			archivalmemory.IsGlobal(false),
			archivalmemory.TaskIDNotNil(),
			archivalmemory.CreatedAtLT(time.Now().AddDate(0, 0, -retentionDays)),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("archival: cleanup stale task memories: %w", err)
	}
	return n, nil
}
