package archival

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/archivalmemory"
	"github.com/oakforge/devpipe/pkg/errs"
)

// StoreInput is one unit of content to archive. Content, SourceType, and
// SourceID are immutable once the row is written.
type StoreInput struct {
	Content         string
	Summary         string
	SourceType      archivalmemory.SourceType
	SourceID        string
	Repo            string
	TaskID          string
	IsGlobal        bool
	Metadata        map[string]any
	ImportanceScore float64 // 0 leaves the schema default (0.5) in place
	TTL             *time.Duration
}

// Store persists input as a new ArchivalMemory row, embedding it when an
// Embedder is configured. The row is never rewritten afterward except for
// access bookkeeping (see recordAccess) and lifecycle fields.
func (s *Service) Store(ctx context.Context, input StoreInput) (*ent.ArchivalMemory, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("archival: content is required")
	}

	tokenCount := len(s.encoding.Encode(input.Content, nil, nil))

	var embedding []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, input.Content)
		if err != nil {
			return nil, fmt.Errorf("archival: embed content: %w", err)
		}
		embedding = v
	}

	builder := s.client.ArchivalMemory.Create().
		SetID(uuid.New().String()).
		SetContent(input.Content).
		SetSourceType(input.SourceType).
		SetIsGlobal(input.IsGlobal).
		SetTokenCount(tokenCount)
	if input.Summary != "" {
		builder = builder.SetSummary(input.Summary)
	}
	if input.SourceID != "" {
		builder = builder.SetSourceID(input.SourceID)
	}
	if input.Repo != "" {
		builder = builder.SetRepo(input.Repo)
	}
	if input.TaskID != "" {
		builder = builder.SetTaskID(input.TaskID)
	}
	if input.Metadata != nil {
		builder = builder.SetMetadata(input.Metadata)
	}
	if input.ImportanceScore > 0 {
		builder = builder.SetImportanceScore(input.ImportanceScore)
	}
	if len(embedding) > 0 {
		builder = builder.SetEmbedding(packEmbedding(embedding))
	}
	if input.TTL != nil {
		builder = builder.SetExpiresAt(time.Now().Add(*input.TTL))
	}

	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: save row: %w", err)
	}

	if len(embedding) > 0 {
		s.indexDocument(ctx, row, embedding)
	}
	return row, nil
}

// indexDocument mirrors row into the in-memory vector cache. A failure here
// only degrades vector search for this row until the next WarmIndex — it
// never fails Store, since Postgres already has the durable copy.
func (s *Service) indexDocument(ctx context.Context, row *ent.ArchivalMemory, embedding []float32) {
	doc := chromem.Document{
		ID:        row.ID,
		Content:   row.Content,
		Metadata:  metadataFor(row),
		Embedding: embedding,
	}
	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		slog.Warn("archival: failed to index document in vector cache", "id", row.ID, "error", err)
	}
}

// Get loads a row by id, bumping its access bookkeeping (access_count,
// last_accessed_at) — the "updates on read" half of the insert-only
// content layer.
func (s *Service) Get(ctx context.Context, id string) (*ent.ArchivalMemory, error) {
	row, err := s.client.ArchivalMemory.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("archival: get row: %w", err)
	}
	updated, err := s.client.ArchivalMemory.UpdateOneID(id).
		AddAccessCount(1).
		SetLastAccessedAt(time.Now()).
		Save(ctx)
	if err != nil {
		slog.Warn("archival: failed to record access", "id", id, "error", err)
		return row, nil
	}
	return updated, nil
}

func (s *Service) recordAccess(ctx context.Context, id string) error {
	return s.client.ArchivalMemory.UpdateOneID(id).
		AddAccessCount(1).
		SetLastAccessedAt(time.Now()).
		Exec(ctx)
}

// CleanupExpired deletes every row whose expires_at has passed. Idempotent:
// calling it again with nothing newly expired deletes zero rows.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.client.ArchivalMemory.Delete().
		Where(
			archivalmemory.ExpiresAtNotNil(),
			archivalmemory.ExpiresAtLT(time.Now()),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("archival: cleanup expired rows: %w", err)
	}
	return n, nil
}
