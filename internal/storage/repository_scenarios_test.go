package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"template-backend/internal/models"

	"github.com/google/uuid"
)

// RepositoryFactory constructs a repository backed by either the JSON store or
// the Postgres implementation for cross-datastore scenario assertions.
type RepositoryFactory func(t *testing.T, opts ...Option) (Repository, func(), error)

func runRepository(t *testing.T, factory RepositoryFactory, opts ...Option) Repository {
	t.Helper()
	if factory == nil {
		t.Fatal("repository factory is required")
	}
	repo, cleanup, err := factory(t, opts...)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if repo == nil {
		t.Fatal("repository factory returned nil repository")
	}
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return repo
}

func fixedClock() func() time.Time {
	at := time.Date(2025, 11, 26, 7, 20, 27, 0, time.UTC)
	return func() time.Time { return at }
}

// RunRepositorySessionLifecycle creates a session and reads it back.
func RunRepositorySessionLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory, WithClock(fixedClock()))
	ctx := context.Background()

	ip := "203.0.113.7"
	id := uuid.NewString()
	created, err := repo.CreateSession(ctx, CreateSessionParams{
		SessionID: id,
		Kind:      models.SessionKindUser,
		IPAddress: &ip,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("expected positive row id, got %d", created.ID)
	}
	if created.UserAgent != nil {
		t.Fatalf("expected nil user agent, got %q", *created.UserAgent)
	}

	loaded, err := repo.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if loaded.ID != created.ID || loaded.SessionID != id || loaded.Kind != models.SessionKindUser {
		t.Fatalf("unexpected session %+v", loaded)
	}
	if loaded.IPAddress == nil || *loaded.IPAddress != ip {
		t.Fatalf("expected ip %q, got %v", ip, loaded.IPAddress)
	}
	if !loaded.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", created.CreatedAt, loaded.CreatedAt)
	}

	again, err := repo.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("second GetSession: %v", err)
	}
	if again.ID != loaded.ID || again.SessionID != loaded.SessionID || !again.UpdatedAt.Equal(loaded.UpdatedAt) {
		t.Fatalf("expected repeated lookups to match: %+v vs %+v", again, loaded)
	}

	if _, err := repo.GetSession(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}

	if _, err := repo.CreateSession(ctx, CreateSessionParams{SessionID: id, Kind: models.SessionKindSystem}); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists for reused id, got %v", err)
	}
}

// RunRepositoryUserLifecycle covers user creation, lookup and the email
// uniqueness constraint.
func RunRepositoryUserLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bob, err := repo.CreateUser(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	if alice.ID <= 0 || bob.ID <= alice.ID {
		t.Fatalf("expected increasing positive ids, got %d and %d", alice.ID, bob.ID)
	}

	got, err := repo.GetUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Fatalf("unexpected email %q", got.Email)
	}

	found, err := repo.FindUserByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if found.ID != bob.ID {
		t.Fatalf("expected bob id %d, got %d", bob.ID, found.ID)
	}

	if _, err := repo.CreateUser(ctx, "alice@example.com"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if n := countUsersWithEmail(t, repo, "alice@example.com"); n != 1 {
		t.Fatalf("expected one row for a rejected duplicate email, got %d", n)
	}
	kept, err := repo.FindUserByEmail(ctx, "alice@example.com")
	if err != nil || kept.ID != alice.ID {
		t.Fatalf("expected original alice row %d, got %+v (%v)", alice.ID, kept, err)
	}
	dave, err := repo.CreateUser(ctx, "dave@example.com")
	if err != nil {
		t.Fatalf("CreateUser after duplicate: %v", err)
	}
	if dave.ID <= bob.ID {
		t.Fatalf("expected id above %d after duplicate, got %d", bob.ID, dave.ID)
	}
	if _, err := repo.GetUser(ctx, dave.ID+1000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
	if _, err := repo.FindUserByEmail(ctx, "carol@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
}

// countUsersWithEmail reads the backing store directly so it does not rely on
// the lookup it is checking.
func countUsersWithEmail(t *testing.T, repo Repository, email string) int {
	t.Helper()
	switch r := repo.(type) {
	case *jsonRepository:
		r.mu.RLock()
		defer r.mu.RUnlock()
		count := 0
		for _, user := range r.data.Users {
			if user.Email == email {
				count++
			}
		}
		return count
	case *postgresRepository:
		var count int
		if err := r.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM users WHERE email = $1", email).Scan(&count); err != nil {
			t.Fatalf("count users: %v", err)
		}
		return count
	default:
		t.Fatalf("unsupported repository %T", repo)
		return 0
	}
}

func TestJSONRepositoryScenarios(t *testing.T) {
	t.Run("sessions", func(t *testing.T) {
		RunRepositorySessionLifecycle(t, jsonRepositoryFactory)
	})
	t.Run("users", func(t *testing.T) {
		RunRepositoryUserLifecycle(t, jsonRepositoryFactory)
	})
}
