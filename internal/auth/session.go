// Package auth issues and resolves anonymous client sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"template-backend/internal/apperr"
	"template-backend/internal/models"
	"template-backend/internal/storage"

	"github.com/google/uuid"
)

const (
	maxSessionFieldLength = 255
	maxCreateAttempts     = 3
	canonicalIDLength     = 36
)

// SessionStore defines the persistence contract for sessions.
// storage.Repository satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, params storage.CreateSessionParams) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	Ping(ctx context.Context) error
}

// CreateSessionParams describes the client a session is issued to. Blank
// fields are stored as NULL.
type CreateSessionParams struct {
	Kind      models.SessionKind
	IPAddress string
	UserAgent string
}

// SessionOption configures a SessionService instance.
type SessionOption func(*SessionService)

// WithIDGenerator replaces the UUIDv4 generator.
func WithIDGenerator(generator func() (uuid.UUID, error)) SessionOption {
	return func(s *SessionService) {
		if generator != nil {
			s.newID = generator
		}
	}
}

// WithLogger sets the logger used for service diagnostics.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SessionService creates sessions and resolves session identifiers.
type SessionService struct {
	store  SessionStore
	newID  func() (uuid.UUID, error)
	logger *slog.Logger
}

// NewSessionService constructs a SessionService. It falls back to an
// in-memory store when none is supplied.
func NewSessionService(store SessionStore, opts ...SessionOption) *SessionService {
	service := &SessionService{
		store:  store,
		newID:  uuid.NewRandom,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	if service.store == nil {
		service.store = storage.NewMemoryRepository()
	}
	return service
}

// Create persists a new session with a fresh random identifier.
func (s *SessionService) Create(ctx context.Context, params CreateSessionParams) (models.Session, error) {
	kind := params.Kind
	if kind == "" {
		kind = models.SessionKindUser
	}
	if !kind.Valid() {
		return models.Session{}, apperr.Validation("Invalid session type", "type")
	}

	record := storage.CreateSessionParams{
		Kind:      kind,
		IPAddress: models.StringPtr(models.Truncate(params.IPAddress, maxSessionFieldLength)),
		UserAgent: models.StringPtr(models.Truncate(params.UserAgent, maxSessionFieldLength)),
	}
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return models.Session{}, fmt.Errorf("generate session id: %w", err)
		}
		record.SessionID = id.String()
		session, err := s.store.CreateSession(ctx, record)
		if errors.Is(err, storage.ErrSessionExists) {
			s.logger.Warn("session id collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return models.Session{}, fmt.Errorf("create session: %w", err)
		}
		return session, nil
	}
	return models.Session{}, fmt.Errorf("create session: %w", storage.ErrSessionExists)
}

// GetByID resolves a session identifier. It returns nil without error when
// the identifier is malformed or unknown. Only the dashed 36-character form
// is accepted, in either case.
func (s *SessionService) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	trimmed := strings.TrimSpace(sessionID)
	if len(trimmed) != canonicalIDLength {
		return nil, nil
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return nil, nil
	}
	session, err := s.store.GetSession(ctx, parsed.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

// Ping reports whether the backing store is reachable.
func (s *SessionService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
