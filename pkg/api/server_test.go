package api

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/database"
	"github.com/oakforge/devpipe/pkg/memory/session"
)

// newTestServer spins up a real Postgres container (FOR UPDATE SKIP LOCKED
// and JSON columns aren't meaningfully exercised by sqlite), mirroring
// pkg/memory/session's newTestService helper.
func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	client := ent.NewClient(ent.Driver(drv))
	require.NoError(t, client.Schema.Create(ctx))
	t.Cleanup(func() { client.Close() })

	dbClient := database.NewClientFromEnt(client, drv.DB())
	cfg := &config.Config{Queue: config.DefaultQueueConfig(), Webhook: &config.WebhookConfig{SecretEnv: "WEBHOOK_SECRET"}}

	return NewServer(cfg, dbClient, session.NewService(client), secret, nil)
}
