// Command bootstrap seeds a datastore with a system session for service
// callers and, optionally, a user account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"template-backend/internal/apperr"
	"template-backend/internal/auth"
	"template-backend/internal/models"
	"template-backend/internal/storage"
	"template-backend/internal/users"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		email       string
		label       string
	)
	flag.StringVar(&jsonPath, "json", "", "path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&email, "email", "", "optional user email to ensure exists")
	flag.StringVar(&label, "label", "bootstrap", "user agent recorded on the system session")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer repo.Close(context.Background())

	result, err := bootstrap(ctx, repo, strings.TrimSpace(email), label)
	if err != nil {
		fatalf("bootstrap: %v", err)
	}
	fmt.Printf("System session: %s\n", result.Session.SessionID)
	if result.User != nil {
		state := "existing"
		if result.UserCreated {
			state = "created"
		}
		fmt.Printf("User %d <%s> (%s)\n", result.User.ID, result.User.Email, state)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(ctx context.Context, jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(ctx, postgresDSN, storage.WithPostgresMigrations(true))
}

type bootstrapResult struct {
	Session     models.Session
	User        *models.User
	UserCreated bool
}

func bootstrap(ctx context.Context, repo storage.Repository, email, label string) (bootstrapResult, error) {
	sessions := auth.NewSessionService(repo)
	session, err := sessions.Create(ctx, auth.CreateSessionParams{
		Kind:      models.SessionKindSystem,
		UserAgent: label,
	})
	if err != nil {
		return bootstrapResult{}, err
	}
	result := bootstrapResult{Session: session}
	if email == "" {
		return result, nil
	}

	user, err := users.NewService(repo).Create(ctx, email)
	if err == nil {
		result.User = &user
		result.UserCreated = true
		return result, nil
	}
	if !apperr.Is(err, apperr.KindValidation) {
		return bootstrapResult{}, err
	}
	existing, findErr := repo.FindUserByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(findErr, storage.ErrNotFound) {
		return bootstrapResult{}, err
	}
	if findErr != nil {
		return bootstrapResult{}, findErr
	}
	result.User = &existing
	return result, nil
}
