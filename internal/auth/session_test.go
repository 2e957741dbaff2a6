package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"template-backend/internal/apperr"
	"template-backend/internal/models"
	"template-backend/internal/storage"

	"github.com/google/uuid"
)

type failingStore struct {
	storage.Repository
	err error
}

func (f failingStore) GetSession(context.Context, string) (models.Session, error) {
	return models.Session{}, f.err
}

func (f failingStore) CreateSession(context.Context, storage.CreateSessionParams) (models.Session, error) {
	return models.Session{}, f.err
}

func TestSessionLifecycle(t *testing.T) {
	service := NewSessionService(storage.NewMemoryRepository())
	ctx := context.Background()

	session, err := service.Create(ctx, CreateSessionParams{IPAddress: "198.51.100.4", UserAgent: "curl/8.4"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := uuid.Parse(session.SessionID); err != nil {
		t.Fatalf("expected uuid session id, got %q", session.SessionID)
	}
	if session.Kind != models.SessionKindUser {
		t.Fatalf("expected default kind user, got %q", session.Kind)
	}

	resolved, err := service.GetByID(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if resolved == nil {
		t.Fatal("expected session to resolve")
	}
	if resolved.UserAgent == nil || *resolved.UserAgent != "curl/8.4" {
		t.Fatalf("unexpected user agent %v", resolved.UserAgent)
	}

	upper, err := service.GetByID(ctx, strings.ToUpper(session.SessionID))
	if err != nil || upper == nil {
		t.Fatalf("expected case-insensitive uuid lookup, got %v / %v", upper, err)
	}
}

func TestGetByIDAbsent(t *testing.T) {
	service := NewSessionService(nil)
	cases := []string{"", "not-a-uuid", uuid.NewString()}
	for _, id := range cases {
		session, err := service.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%q) returned error: %v", id, err)
		}
		if session != nil {
			t.Fatalf("GetByID(%q) expected nil session, got %+v", id, session)
		}
	}
}

func TestGetByIDRequiresDashedForm(t *testing.T) {
	service := NewSessionService(storage.NewMemoryRepository())
	session, err := service.Create(context.Background(), CreateSessionParams{Kind: models.SessionKindUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := session.SessionID

	tests := []struct {
		name    string
		input   string
		resolve bool
	}{
		{name: "dashed", input: id, resolve: true},
		{name: "dashed with padding", input: "  " + id + " ", resolve: true},
		{name: "braces", input: "{" + id + "}"},
		{name: "urn prefix", input: "urn:uuid:" + id},
		{name: "bare hex", input: strings.ReplaceAll(id, "-", "")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := service.GetByID(context.Background(), tc.input)
			if err != nil {
				t.Fatalf("GetByID(%q) returned error: %v", tc.input, err)
			}
			if (got != nil) != tc.resolve {
				t.Fatalf("GetByID(%q): expected resolve=%v, got %+v", tc.input, tc.resolve, got)
			}
		})
	}
}

func TestGetByIDPropagatesStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	service := NewSessionService(failingStore{err: boom})
	if _, err := service.GetByID(context.Background(), uuid.NewString()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	service := NewSessionService(nil)
	_, err := service.Create(context.Background(), CreateSessionParams{Kind: "admin"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateStoresBlankFieldsAsNull(t *testing.T) {
	service := NewSessionService(nil)
	session, err := service.Create(context.Background(), CreateSessionParams{Kind: models.SessionKindSystem})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if session.IPAddress != nil || session.UserAgent != nil {
		t.Fatalf("expected nil optional fields, got %v / %v", session.IPAddress, session.UserAgent)
	}
}

func TestCreateTruncatesLongUserAgent(t *testing.T) {
	service := NewSessionService(nil)
	session, err := service.Create(context.Background(), CreateSessionParams{UserAgent: strings.Repeat("a", 400)})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if session.UserAgent == nil || len(*session.UserAgent) != maxSessionFieldLength {
		t.Fatalf("expected user agent truncated to %d", maxSessionFieldLength)
	}
}

func TestCreateRegeneratesOnCollision(t *testing.T) {
	store := storage.NewMemoryRepository()
	fixed := uuid.MustParse("6a1f5f4e-8c1d-4a3b-9b9e-2f6d0c7e5a10")
	next := uuid.MustParse("0b8c0f43-2b7e-4f0c-8a44-1f3b2c9d7e61")
	calls := 0
	service := NewSessionService(store, WithIDGenerator(func() (uuid.UUID, error) {
		calls++
		if calls <= 2 {
			return fixed, nil
		}
		return next, nil
	}))

	first, err := service.Create(context.Background(), CreateSessionParams{})
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := service.Create(context.Background(), CreateSessionParams{})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if first.SessionID != fixed.String() || second.SessionID != next.String() {
		t.Fatalf("unexpected ids %q and %q", first.SessionID, second.SessionID)
	}
}

func TestCreateWrapsStoreFailure(t *testing.T) {
	boom := errors.New("insert failed")
	service := NewSessionService(failingStore{err: boom})
	_, err := service.Create(context.Background(), CreateSessionParams{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if _, ok := apperr.As(err); ok {
		t.Fatal("store failures must stay opaque")
	}
}

func TestConcurrentCreateProducesDistinctIDs(t *testing.T) {
	service := NewSessionService(nil)
	const workers = 50
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			session, err := service.Create(context.Background(), CreateSessionParams{})
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids <- session.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, workers)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}
