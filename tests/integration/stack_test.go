// Package integration exercises the full dependency graph against real
// Postgres (with pgvector) and Redis backends via testcontainers. The
// tests skip when Docker is unavailable or -short is set.
package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/observability"
)

// stack is one fully wired dependency graph running on containerized
// backends: Postgres for relational and vector storage, Redis for cache
// and queues.
type stack struct {
	Deps        *app.Dependencies
	PostgresDSN string
	RedisAddr   string
}

func startStack(t *testing.T) *stack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("Docker not available")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("govmatch_test"),
		postgres.WithUsername("govmatch"),
		postgres.WithPassword("govmatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://govmatch:govmatch@%s:%s/govmatch_test?sslmode=disable",
		pgHost, pgPort.Port())

	redisContainer, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := redisContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)
	redisAddr := fmt.Sprintf("%s:%s", redisHost, redisPort.Port())

	cfg := config.DefaultConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres.DSN = dsn
	cfg.Vector.Adapter = "pgvector"
	cfg.Cache.Driver = "redis"
	cfg.Cache.Redis.Addr = redisAddr
	cfg.Queue.Driver = "redis"
	cfg.Queue.Redis.Addr = redisAddr
	cfg.ObjectStore.Driver = "memory"
	cfg.Observability.MetricsEnabled = false

	deps, err := app.New(ctx, cfg, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	return &stack{Deps: deps, PostgresDSN: dsn, RedisAddr: redisAddr}
}

func dockerAvailable() (ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// NewDockerProvider panics (MustExtractDockerHost) when no Docker host
	// can be found; treat that the same as an error return.
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}
