package archival

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/learnedpattern"
	"github.com/oakforge/devpipe/pkg/errs"
)

// PatternInput describes a fix/convention/error/style/refactor a task
// outcome taught the system (spec §4.11 Pattern lifecycle).
type PatternInput struct {
	PatternType      learnedpattern.PatternType
	TriggerPattern   string
	Description      string
	Solution         string
	Examples         []string
	ScopeRepo        string
	ScopeLanguage    string
	ScopeFilePattern string
}

// RecordPattern creates a new LearnedPattern, or updates the description,
// solution, and examples of an existing one matching the same pattern type,
// trigger, and repo scope — patterns are deduplicated by that triple rather
// than accumulating near-duplicate rows every time the same lesson recurs.
func (s *Service) RecordPattern(ctx context.Context, input PatternInput) (*ent.LearnedPattern, error) {
	if strings.TrimSpace(input.Description) == "" {
		return nil, fmt.Errorf("archival: pattern description is required")
	}

	query := s.client.LearnedPattern.Query().
		Where(learnedpattern.PatternTypeEQ(input.PatternType))
	if input.TriggerPattern != "" {
		query = query.Where(learnedpattern.TriggerPattern(input.TriggerPattern))
	} else {
		query = query.Where(learnedpattern.TriggerPatternIsNil())
	}
	if input.ScopeRepo != "" {
		query = query.Where(learnedpattern.ScopeRepo(input.ScopeRepo))
	} else {
		query = query.Where(learnedpattern.ScopeRepoIsNil())
	}

	existing, err := query.First(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return nil, fmt.Errorf("archival: look up existing pattern: %w", err)
	}

	if existing != nil {
		update := existing.Update().SetDescription(input.Description)
		if input.Solution != "" {
			update = update.SetSolution(input.Solution)
		}
		if len(input.Examples) > 0 {
			update = update.SetExamples(input.Examples)
		}
		row, err := update.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("archival: update existing pattern: %w", err)
		}
		return row, nil
	}

	builder := s.client.LearnedPattern.Create().
		SetID(uuid.New().String()).
		SetPatternType(input.PatternType).
		SetDescription(input.Description)
	if input.TriggerPattern != "" {
		builder = builder.SetTriggerPattern(input.TriggerPattern)
	}
	if input.Solution != "" {
		builder = builder.SetSolution(input.Solution)
	}
	if len(input.Examples) > 0 {
		builder = builder.SetExamples(input.Examples)
	}
	if input.ScopeRepo != "" {
		builder = builder.SetScopeRepo(input.ScopeRepo)
	}
	if input.ScopeLanguage != "" {
		builder = builder.SetScopeLanguage(input.ScopeLanguage)
	}
	if input.ScopeFilePattern != "" {
		builder = builder.SetScopeFilePattern(input.ScopeFilePattern)
	}

	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: create pattern: %w", err)
	}
	return row, nil
}

// UpdatePatternOutcome records a single success/failure observation against
// a pattern and recomputes its confidence as
// successCount / (successCount + failureCount + 1) (schema invariant).
// Promotion to global scope is a separate, periodic operation (see
// Service.PromoteEligible) rather than done inline here, since promoting
// also clears ScopeRepo and this method only ever touches the counters.
func (s *Service) UpdatePatternOutcome(ctx context.Context, id string, success bool) (*ent.LearnedPattern, error) {
	row, err := s.client.LearnedPattern.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("archival: get pattern: %w", err)
	}

	successCount, failureCount := row.SuccessCount, row.FailureCount
	if success {
		successCount++
	} else {
		failureCount++
	}
	confidence := float64(successCount) / float64(successCount+failureCount+1)

	updated, err := row.Update().
		SetSuccessCount(successCount).
		SetFailureCount(failureCount).
		SetConfidence(confidence).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: update pattern outcome: %w", err)
	}
	return updated, nil
}
