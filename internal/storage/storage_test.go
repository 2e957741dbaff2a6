package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"template-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

func TestJSONRepositoryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	store, err := newJSONRepository(path)
	if err != nil {
		t.Fatalf("newJSONRepository: %v", err)
	}
	ctx := context.Background()

	ua := "curl/8.4"
	id := uuid.NewString()
	session, err := store.CreateSession(ctx, CreateSessionParams{SessionID: id, Kind: models.SessionKindUser, UserAgent: &ua})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	user, err := store.CreateUser(ctx, "persist@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	reopened, err := newJSONRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	loaded, err := reopened.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
	if loaded.ID != session.ID {
		t.Fatalf("expected row id %d to survive reopen, got %d", session.ID, loaded.ID)
	}
	if loaded.UserAgent == nil || *loaded.UserAgent != ua {
		t.Fatalf("expected user agent to survive reopen, got %v", loaded.UserAgent)
	}
	if _, err := reopened.GetUser(ctx, user.ID); err != nil {
		t.Fatalf("GetUser after reopen: %v", err)
	}

	next, err := reopened.CreateUser(ctx, "next@example.com")
	if err != nil {
		t.Fatalf("CreateUser after reopen: %v", err)
	}
	if next.ID != user.ID+1 {
		t.Fatalf("expected id sequence to continue, got %d after %d", next.ID, user.ID)
	}
}

func TestJSONRepositoryEmptyFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	store, err := newJSONRepository(path)
	if err != nil {
		t.Fatalf("newJSONRepository: %v", err)
	}
	if len(store.data.Users) != 0 || len(store.data.Sessions) != 0 {
		t.Fatalf("expected empty dataset")
	}
}

func TestJSONRepositoryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := newJSONRepository(path); err == nil {
		t.Fatal("expected decode error for corrupt file")
	}
}

func TestCreateUserPersistFailureLeavesDataUntouched(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("disk full")
	store.persistOverride = func(dataset) error { return boom }

	if _, err := store.CreateUser(context.Background(), "fail@example.com"); !errors.Is(err, boom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if len(store.data.Users) != 0 {
		t.Fatalf("expected no users after failed persist, got %d", len(store.data.Users))
	}
	if store.data.NextUserID != 0 {
		t.Fatalf("expected id sequence rolled back, got %d", store.data.NextUserID)
	}

	store.persistOverride = nil
	user, err := store.CreateUser(context.Background(), "fail@example.com")
	if err != nil {
		t.Fatalf("CreateUser retry: %v", err)
	}
	if user.ID != 1 {
		t.Fatalf("expected first id after rollback, got %d", user.ID)
	}
}

func TestCreateSessionPersistFailureLeavesDataUntouched(t *testing.T) {
	store := newTestStore(t)
	store.persistOverride = func(dataset) error { return errors.New("disk full") }

	id := uuid.NewString()
	if _, err := store.CreateSession(context.Background(), CreateSessionParams{SessionID: id, Kind: models.SessionKindUser}); err == nil {
		t.Fatal("expected persist error")
	}
	if _, err := store.GetSession(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session to be absent, got %v", err)
	}
}

func TestCreateSessionRejectsInvalidParams(t *testing.T) {
	store := NewMemoryRepository()
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, CreateSessionParams{Kind: models.SessionKindUser}); err == nil {
		t.Fatal("expected error for missing session id")
	}
	if _, err := store.CreateSession(ctx, CreateSessionParams{SessionID: uuid.NewString(), Kind: "admin"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestClosedRepositoryIsUnavailable(t *testing.T) {
	store := NewMemoryRepository()
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping before close: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable after close, got %v", err)
	}
	if _, err := store.CreateUser(ctx, "late@example.com"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable from CreateUser, got %v", err)
	}
}

func TestCancelledContextIsRespected(t *testing.T) {
	store := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetUser(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithClockAppliesToJSONStore(t *testing.T) {
	clock := fixedClock()
	store := NewMemoryRepository(WithClock(clock))
	user, err := store.CreateUser(context.Background(), "clock@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !user.CreatedAt.Equal(clock()) || !user.UpdatedAt.Equal(clock()) {
		t.Fatalf("expected timestamps from injected clock, got %v/%v", user.CreatedAt, user.UpdatedAt)
	}
}

func TestPostgresOptionsApply(t *testing.T) {
	cfg := newPostgresConfig("postgres://localhost/app",
		WithPostgresPoolLimits(12, 2),
		WithPostgresAcquireTimeout(0),
		WithPostgresApplicationName("  template-backend "),
		WithPostgresMigrations(true),
	)
	if cfg.MaxConnections != 12 || cfg.MinConnections != 2 {
		t.Fatalf("unexpected pool limits %d/%d", cfg.MaxConnections, cfg.MinConnections)
	}
	if cfg.AcquireTimeout != defaultPostgresAcquireTimeout {
		t.Fatalf("expected default acquire timeout to survive a zero override, got %v", cfg.AcquireTimeout)
	}
	if cfg.ApplicationName != "template-backend" {
		t.Fatalf("unexpected application name %q", cfg.ApplicationName)
	}
	if !cfg.Migrate {
		t.Fatal("expected migrations enabled")
	}
	if cfg.Clock == nil {
		t.Fatal("expected default clock")
	}
}

func TestNewPostgresRepositoryRequiresDSN(t *testing.T) {
	if _, err := NewPostgresRepository(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestIsNoRows(t *testing.T) {
	if !isNoRows(pgx.ErrNoRows) {
		t.Fatalf("expected pgx.ErrNoRows to be treated as no rows")
	}
	if isNoRows(puddle.ErrClosedPool) {
		t.Fatalf("expected closed pool error to not be treated as no rows")
	}
	if isNoRows(errors.New("boom")) {
		t.Fatalf("expected arbitrary error to not be treated as no rows")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_unique"}) {
		t.Fatal("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23514"}) {
		t.Fatal("expected check violation to be distinct")
	}
	if isUniqueViolation(puddle.ErrClosedPool) {
		t.Fatal("expected closed pool error to not be a unique violation")
	}
}
