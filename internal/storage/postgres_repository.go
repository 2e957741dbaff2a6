package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"template-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository. Unless
// WithPostgresMigrations is supplied the schema must already exist.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if cfg.Migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrStorageUnavailable
	}
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
}

// withConn acquires a pooled connection bounded by the acquire timeout and
// runs fn with the same deadline.
func (r *postgresRepository) withConn(ctx context.Context, fn func(context.Context, *pgxpool.Conn) error) error {
	if r == nil || r.pool == nil {
		return ErrStorageUnavailable
	}
	if r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *postgresRepository) CreateSession(ctx context.Context, params CreateSessionParams) (models.Session, error) {
	if err := params.validate(); err != nil {
		return models.Session{}, err
	}
	now := r.cfg.Clock()
	session := models.Session{
		SessionID: params.SessionID,
		Kind:      params.Kind,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `
INSERT INTO sessions (session_id, type, ip_address, user_agent, created_at, updated_at)
VALUES ($1::text::uuid, $2, $3, $4, $5, $5)
RETURNING id
`, params.SessionID, string(params.Kind), params.IPAddress, params.UserAgent, now)
		return row.Scan(&session.ID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return models.Session{}, ErrSessionExists
		}
		return models.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

func (r *postgresRepository) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var (
		session models.Session
		kind    string
	)
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `
SELECT id, session_id::text, type, ip_address, user_agent, created_at, updated_at
FROM sessions
WHERE session_id = $1::text::uuid
`, sessionID)
		return row.Scan(&session.ID, &session.SessionID, &kind, &session.IPAddress, &session.UserAgent, &session.CreatedAt, &session.UpdatedAt)
	})
	if err != nil {
		if isNoRows(err) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, fmt.Errorf("load session: %w", err)
	}
	session.Kind = models.SessionKind(kind)
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, nil
}

func (r *postgresRepository) CreateUser(ctx context.Context, email string) (models.User, error) {
	now := r.cfg.Clock()
	user := models.User{Email: email, CreatedAt: now, UpdatedAt: now}
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `
INSERT INTO users (email, created_at, updated_at)
VALUES ($1, $2, $2)
RETURNING id
`, email, now)
		return row.Scan(&user.ID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id int64) (models.User, error) {
	return r.queryUser(ctx, `
SELECT id, email, created_at, updated_at
FROM users
WHERE id = $1
`, id)
}

func (r *postgresRepository) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.queryUser(ctx, `
SELECT id, email, created_at, updated_at
FROM users
WHERE email = $1
`, email)
}

func (r *postgresRepository) queryUser(ctx context.Context, query string, arg any) (models.User, error) {
	var user models.User
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	})
	if err != nil {
		if isNoRows(err) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
