package archival

import (
	"context"
	"fmt"
	"strings"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/learnedpattern"
)

// relatedPatternConfidence is the floor above which a LearnedPattern is
// surfaced alongside a progressive disclosure result (spec §4.11: "related
// LearnedPatterns with confidence > 0.6").
const relatedPatternConfidence = 0.6

// IndexEntry is the top, cheapest disclosure layer: title and category for
// every candidate, ranked by relevance.
type IndexEntry struct {
	ID       string
	Category string
	Title    string
	Score    float64
}

// SummaryEntry is the middle disclosure layer: one-paragraph summaries of
// the closest-ranked candidates.
type SummaryEntry struct {
	ID      string
	Summary string
	Score   float64
}

// FullEntry is the bottom, most expensive disclosure layer: full content
// for only the very closest matches.
type FullEntry struct {
	ID      string
	Content string
	Score   float64
}

// Disclosure is the three-layer progressive view over a search, plus
// related learned patterns (spec §4.11 Progressive disclosure).
type Disclosure struct {
	Index           []IndexEntry
	Summaries       []SummaryEntry
	FullContent     []FullEntry
	RelatedPatterns []*ent.LearnedPattern
}

// ProgressiveDisclosure runs q against Search over a widened candidate
// window, then buckets the ranked results into index/summary/full-content
// layers of decreasing size and increasing cost, alongside any
// high-confidence learned patterns in scope.
func (s *Service) ProgressiveDisclosure(ctx context.Context, q SearchQuery) (*Disclosure, error) {
	topK := q.topK()
	wide := q
	wide.TopK = topK * 3

	results, err := s.Search(ctx, wide)
	if err != nil {
		return nil, fmt.Errorf("archival: progressive disclosure search: %w", err)
	}

	d := &Disclosure{}
	for _, r := range results {
		d.Index = append(d.Index, IndexEntry{
			ID:       r.Memory.ID,
			Category: string(r.Memory.SourceType),
			Title:    titleOf(r.Memory),
			Score:    r.Score,
		})
	}

	summaryCount := min(topK*2, len(results))
	for _, r := range results[:summaryCount] {
		d.Summaries = append(d.Summaries, SummaryEntry{
			ID:      r.Memory.ID,
			Summary: summaryOf(r.Memory),
			Score:   r.Score,
		})
	}

	fullCount := min(topK, len(results))
	for _, r := range results[:fullCount] {
		d.FullContent = append(d.FullContent, FullEntry{
			ID:      r.Memory.ID,
			Content: r.Memory.Content,
			Score:   r.Score,
		})
	}

	patterns, err := s.relatedPatterns(ctx, q.Repo)
	if err != nil {
		return nil, err
	}
	d.RelatedPatterns = patterns

	return d, nil
}

func (s *Service) relatedPatterns(ctx context.Context, repo string) ([]*ent.LearnedPattern, error) {
	query := s.client.LearnedPattern.Query().
		Where(learnedpattern.ConfidenceGT(relatedPatternConfidence))

	if repo != "" {
		query = query.Where(learnedpattern.Or(
			learnedpattern.ScopeRepo(repo),
			learnedpattern.IsGlobal(true),
		))
	} else {
		query = query.Where(learnedpattern.IsGlobal(true))
	}

	patterns, err := query.Order(ent.Desc(learnedpattern.FieldConfidence)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: query related patterns: %w", err)
	}
	return patterns, nil
}

func titleOf(m *ent.ArchivalMemory) string {
	if m.Summary != nil && *m.Summary != "" {
		return firstLine(*m.Summary, 120)
	}
	return firstLine(m.Content, 120)
}

func summaryOf(m *ent.ArchivalMemory) string {
	if m.Summary != nil && *m.Summary != "" {
		return *m.Summary
	}
	if len(m.Content) > 500 {
		return m.Content[:500]
	}
	return m.Content
}

func firstLine(s string, maxLen int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

