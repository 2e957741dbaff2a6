// Command migrate-json-to-postgres copies a JSON datastore into Postgres.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"template-backend/internal/observability/logging"
	"template-backend/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: string(logging.FormatText)})

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn or DATABASE_URL")
		os.Exit(1)
	}

	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", *jsonPath, "sessions", counts.Sessions, "users", counts.Users)

	ctx := context.Background()
	repo, err := storage.NewPostgresRepository(ctx, dsn, storage.WithPostgresMigrations(true))
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close(context.Background())

	imported, err := storage.ImportSnapshotToPostgres(ctx, repo, snapshot)
	if err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}
	if err := verifySnapshot(ctx, repo, snapshot); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed",
		"sessions", imported.Sessions,
		"users", imported.Users,
		"skipped_sessions", counts.Sessions-imported.Sessions,
		"skipped_users", counts.Users-imported.Users,
	)
}

// verifySnapshot checks every snapshot row can be read back. A user whose
// email was already taken by a different row is reported as a mismatch.
func verifySnapshot(ctx context.Context, repo storage.Repository, snapshot storage.Snapshot) error {
	for _, session := range snapshot.Sessions {
		if _, err := repo.GetSession(ctx, session.SessionID); err != nil {
			return fmt.Errorf("session %s: %w", session.SessionID, err)
		}
	}
	for _, user := range snapshot.Users {
		stored, err := repo.FindUserByEmail(ctx, user.Email)
		if err != nil {
			return fmt.Errorf("user %s: %w", user.Email, err)
		}
		if stored.ID != user.ID {
			return errors.New("user " + user.Email + ": stored under a different id")
		}
	}
	return nil
}
