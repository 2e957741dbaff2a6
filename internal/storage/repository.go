package storage

import (
	"context"
	"errors"

	"template-backend/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("storage: record not found")
	// ErrEmailTaken is returned when a user insert collides with an existing email.
	ErrEmailTaken = errors.New("storage: email already taken")
	// ErrSessionExists is returned when a session identifier is reused.
	ErrSessionExists = errors.New("storage: session already exists")
	// ErrStorageUnavailable is returned by repositories that have been closed
	// or were never connected.
	ErrStorageUnavailable = errors.New("storage: repository unavailable")
)

// Repository exposes the datastore operations required by the session and
// user services.
type Repository interface {
	Ping(ctx context.Context) error

	CreateSession(ctx context.Context, params CreateSessionParams) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)

	CreateUser(ctx context.Context, email string) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)

	Close(ctx context.Context) error
}

// CreateSessionParams describes a session row to insert. SessionID must be
// a canonical UUID string.
type CreateSessionParams struct {
	SessionID string
	Kind      models.SessionKind
	IPAddress *string
	UserAgent *string
}

func (p CreateSessionParams) validate() error {
	if p.SessionID == "" {
		return errors.New("storage: session id is required")
	}
	if !p.Kind.Valid() {
		return errors.New("storage: invalid session kind")
	}
	return nil
}

var (
	_ Repository = (*jsonRepository)(nil)
	_ Repository = (*postgresRepository)(nil)
)
