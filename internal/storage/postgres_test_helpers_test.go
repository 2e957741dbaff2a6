//go:build postgres

package storage

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresRepositoryFactory opens a Postgres-backed repository against
// TEST_DATABASE_URL, applying the schema and truncating tables around each
// test. The database must be dedicated to automated runs.
func postgresRepositoryFactory(t *testing.T, opts ...Option) (Repository, func(), error) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres pool: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	if err := truncatePostgresTables(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("truncate tables: %v", err)
	}

	repo, err := NewPostgresRepository(ctx, dsn, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = repo.Close(context.Background())
		if err := truncatePostgresTables(context.Background(), pool); err != nil {
			t.Errorf("truncate tables: %v", err)
		}
		pool.Close()
	}
	return repo, cleanup, nil
}

func truncatePostgresTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE sessions, users RESTART IDENTITY")
	return err
}
