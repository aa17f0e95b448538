// Package cleanup runs the archival memory maintenance loop (spec §4.11
// Maintenance): periodic, idempotent cleanupExpired plus pattern/memory
// promotion to global scope. Grounded on the teacher's own retention loop
// (ticker + runAll, soft-delete/TTL-cleanup pair), re-targeted from
// session/event retention onto archival memory.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/memory/archival"
)

// Service periodically enforces archival retention and promotion policy:
//   - Removes ArchivalMemory rows past their expires_at.
//   - Removes non-global, task-scoped rows older than TaskRetentionDays.
//   - Promotes importance/confidence-eligible rows and patterns to global.
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config   *config.RetentionConfig
	archival *archival.Service

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, archivalSvc *archival.Service) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{config: cfg, archival: archivalSvc}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.cleanupExpired(ctx)
	s.cleanupStaleTaskMemories(ctx)
	s.promoteEligible(ctx)
}

func (s *Service) cleanupExpired(ctx context.Context) {
	n, err := s.archival.CleanupExpired(ctx)
	if err != nil {
		slog.Error("retention: cleanup expired archival rows failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("retention: cleaned up expired archival rows", "count", n)
	}
}

func (s *Service) cleanupStaleTaskMemories(ctx context.Context) {
	n, err := s.archival.CleanupStaleTaskMemories(ctx, s.config.TaskRetentionDays)
	if err != nil {
		slog.Error("retention: cleanup stale task memories failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("retention: cleaned up stale task-scoped archival rows", "count", n)
	}
}

func (s *Service) promoteEligible(ctx context.Context) {
	memories, patterns, err := s.archival.PromoteEligible(ctx, archival.PromotionThresholds{
		MinImportanceForGlobal: s.config.MinImportanceForGlobal,
		MinConfidenceForGlobal: s.config.MinConfidenceForGlobal,
	})
	if err != nil {
		slog.Error("retention: promote to global failed", "error", err)
		return
	}
	if memories > 0 || patterns > 0 {
		slog.Info("retention: promoted rows to global scope", "memories", memories, "patterns", patterns)
	}
}
