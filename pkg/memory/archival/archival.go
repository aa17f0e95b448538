// Package archival implements the long-term, content-addressed memory store
// shared across tasks and repos (Memory: Archival, spec §4.11), grounded on
// the teacher's pkg/services query idiom (services.SessionService) for the
// ent access patterns and on services.SessionService.SearchSessions for the
// Postgres full-text-search fallback.
//
// Content is insert-only: a row's content, source_type, and source_id are
// immutable once written, and only access bookkeeping (access_count,
// last_accessed_at) and lifecycle fields (is_global, expires_at) ever
// change. Vector search is served from an in-memory philippgille/chromem-go
// index that mirrors the embedding column — Postgres remains the source of
// truth, and WarmIndex rebuilds the chromem index from it on startup, the
// same persistence-vs-cache split the teacher's ChromemProvider analogue
// uses (_examples/kadirpekel-hector/pkg/vector/chromem.go), minus its
// gob-file persistence since Postgres already durably stores every vector.
package archival

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/pkoukk/tiktoken-go"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/archivalmemory"
	"github.com/oakforge/devpipe/pkg/config"
)

// Embedder computes a fixed-dimension embedding for a piece of text. nil
// disables vector search entirely: Store persists rows with no embedding
// and Search falls back to lexical ranking (spec §4.11, Embedding fallback).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service is the archival memory store.
type Service struct {
	client     *ent.Client
	embedder   Embedder
	retention  *config.RetentionConfig
	encoding   *tiktoken.Tiktoken
	db         *chromem.DB
	collection *chromem.Collection
}

const collectionName = "archival"

// NewService constructs a Service. embedder may be nil (lexical-only mode).
// retention may be nil, in which case config.DefaultRetentionConfig applies.
func NewService(client *ent.Client, embedder Embedder, retention *config.RetentionConfig) (*Service, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("archival: load token encoding: %w", err)
	}
	if retention == nil {
		retention = config.DefaultRetentionConfig()
	}

	db := chromem.NewDB()
	// chromem requires an EmbeddingFunc per collection, but every vector
	// handled here is precomputed by Embedder before it reaches chromem —
	// mirrors the teacher's ChromemProvider identity-embedding stub.
	identityEmbed := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("archival: embedding function invoked but vectors are precomputed")
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("archival: create vector collection: %w", err)
	}

	return &Service{
		client:     client,
		embedder:   embedder,
		retention:  retention,
		encoding:   encoding,
		db:         db,
		collection: col,
	}, nil
}

// WarmIndex loads every non-expired, embedded row from Postgres into the
// in-memory vector index. Call once at startup; a no-op in lexical-only mode.
func (s *Service) WarmIndex(ctx context.Context) error {
	if s.embedder == nil {
		return nil
	}

	rows, err := s.client.ArchivalMemory.Query().
		Where(archivalmemory.EmbeddingNotNil()).
		All(ctx)
	if err != nil {
		return fmt.Errorf("archival: load rows to warm index: %w", err)
	}

	docs := make([]chromem.Document, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) == 0 {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  metadataFor(r),
			Embedding: unpackEmbedding(r.Embedding),
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("archival: warm vector index: %w", err)
	}
	return nil
}

func metadataFor(r *ent.ArchivalMemory) map[string]string {
	m := map[string]string{
		"source_type": string(r.SourceType),
		"is_global":   strconv.FormatBool(r.IsGlobal),
	}
	if r.Repo != nil {
		m["repo"] = *r.Repo
	}
	if r.TaskID != nil {
		m["task_id"] = *r.TaskID
	}
	return m
}
