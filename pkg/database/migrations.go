package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient lexical search over task bodies and archival
// memory content, used as the fallback rank when embeddings are
// unavailable (spec §4.11, Design Notes §9).
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_body_gin
		ON tasks USING gin(to_tsvector('english', body))`)
	if err != nil {
		return fmt.Errorf("failed to create tasks body GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_archival_memory_content_gin
		ON archival_memories USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create archival_memory content GIN index: %w", err)
	}

	return nil
}
