package archival

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"entgo.io/ent/dialect/sql"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/archivalmemory"
	"github.com/oakforge/devpipe/ent/predicate"
)

// SearchQuery scopes a semantic (or, in lexical-fallback mode, plain-text)
// search over archival memory.
type SearchQuery struct {
	Text          string
	Repo          string
	TaskID        string
	IncludeGlobal bool
	SourceTypes   []archivalmemory.SourceType
	TopK          int     // default 10
	MinSimilarity float64 // default 0.7
}

// SearchResult pairs a row with its rank: cosine similarity (1 - cosine
// distance) in embedding mode, or the lexical overlap rank in fallback mode.
type SearchResult struct {
	Memory *ent.ArchivalMemory
	Score  float64
}

func (q SearchQuery) topK() int {
	if q.TopK > 0 {
		return q.TopK
	}
	return 10
}

func (q SearchQuery) threshold() float64 {
	if q.MinSimilarity > 0 {
		return q.MinSimilarity
	}
	return 0.7
}

// Search ranks archival memory against q.Text, honoring repo/task/global
// scoping and source-type filtering, and drops anything below the
// similarity threshold (spec §4.11 Semantic search). Falls back to a
// deterministic lexical rank when no Embedder is configured.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if s.embedder == nil {
		return s.lexicalSearch(ctx, q)
	}
	return s.embeddingSearch(ctx, q)
}

func (s *Service) embeddingSearch(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("archival: embed query: %w", err)
	}

	// chromem's filter is a single AND'd exact-match map, which cannot
	// express "repo X OR is_global" — so scope narrowing happens in Go
	// below, over a wider candidate window.
	// chromem rejects a result count above its document count, so the
	// window is capped at what the collection holds.
	n := q.topK() * 4
	if count := s.collection.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	candidates, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("archival: vector search: %w", err)
	}

	threshold := q.threshold()
	var out []SearchResult
	for _, c := range candidates {
		if float64(c.Similarity) < threshold {
			continue
		}
		if !scopeMatches(c.Metadata, q) {
			continue
		}
		row, err := s.Get(ctx, c.ID)
		if err != nil {
			continue // row removed since the index was last warmed
		}
		out = append(out, SearchResult{Memory: row, Score: float64(c.Similarity)})
		if len(out) >= q.topK() {
			break
		}
	}
	return out, nil
}

func scopeMatches(meta map[string]string, q SearchQuery) bool {
	if len(q.SourceTypes) > 0 {
		matched := false
		for _, st := range q.SourceTypes {
			if meta["source_type"] == string(st) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if meta["is_global"] == "true" {
		return q.IncludeGlobal
	}
	if q.Repo != "" && meta["repo"] != q.Repo {
		return false
	}
	if q.TaskID != "" && meta["task_id"] != q.TaskID {
		return false
	}
	return true
}

// lexicalSearch is the Embedding fallback (spec §4.11, Design Notes §9): a
// zero-vector stand-in plus a deterministic plain-text rank. Matching is
// done in Postgres via to_tsvector/plainto_tsquery, the same technique as
// services.SessionService.SearchSessions; relative ranking is then computed
// in Go as the fraction of query terms each row's content contains, since
// exposing Postgres's ts_rank() through ent's query builder would require
// raw-SQL result scanning this package has no other need for.
func (s *Service) lexicalSearch(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	query := s.client.ArchivalMemory.Query()

	if len(q.SourceTypes) > 0 {
		query = query.Where(archivalmemory.SourceTypeIn(q.SourceTypes...))
	}

	text := strings.TrimSpace(q.Text)
	if text != "" {
		query = query.Where(func(sel *sql.Selector) {
			sel.Where(sql.ExprP("to_tsvector('english', content) @@ plainto_tsquery($1)", text))
		})
	}

	if scopePred := scopePredicate(q); scopePred != nil {
		query = query.Where(scopePred)
	}

	rows, err := query.Limit(q.topK() * 4).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: lexical search: %w", err)
	}

	threshold := q.threshold()
	scored := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		rank := lexicalRank(r.Content, text)
		if rank < threshold {
			continue
		}
		scored = append(scored, SearchResult{Memory: r, Score: rank})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > q.topK() {
		scored = scored[:q.topK()]
	}

	for _, r := range scored {
		_ = s.recordAccess(ctx, r.Memory.ID)
	}
	return scored, nil
}

// scopePredicate builds the repo/task/global scope predicate using ent's
// generated And/Or/field helpers. Returns nil when q carries no scope at
// all (match every row).
func scopePredicate(q SearchQuery) predicate.ArchivalMemory {
	var repoPred predicate.ArchivalMemory
	if q.Repo != "" {
		if q.TaskID != "" {
			repoPred = archivalmemory.And(archivalmemory.Repo(q.Repo), archivalmemory.TaskID(q.TaskID))
		} else {
			repoPred = archivalmemory.Repo(q.Repo)
		}
	}
	if !q.IncludeGlobal {
		return repoPred
	}
	if repoPred == nil {
		return archivalmemory.IsGlobal(true)
	}
	return archivalmemory.Or(repoPred, archivalmemory.IsGlobal(true))
}

// lexicalRank is the fraction of text's whitespace-delimited query terms
// that appear (case-insensitively) in content. Deterministic and bounded
// to [0,1], which keeps it comparable to the embedding path's cosine
// similarity scale even though it isn't one.
func lexicalRank(content, text string) float64 {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
