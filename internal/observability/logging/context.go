package logging

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

type contextKey int

const (
	scopeKey contextKey = iota
	loggerKey
)

// scope holds the identifiers of one request. Every context derived from the
// request shares the same scope, so a session bound inside a handler is seen
// by middleware that logs after the handler returns.
type scope struct {
	requestID string

	mu        sync.RWMutex
	sessionID string
}

func (s *scope) session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *scope) setSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func scopeFrom(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey).(*scope)
	return s
}

func ensureScope(r *http.Request) *http.Request {
	if scopeFrom(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), scopeKey, &scope{}))
}

// ContextWithRequestID starts a request scope for id. A blank id leaves ctx
// unchanged.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ctx
	}
	next := &scope{requestID: trimmed}
	if current := scopeFrom(ctx); current != nil {
		next.sessionID = current.session()
	}
	return context.WithValue(ctx, scopeKey, next)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	s := scopeFrom(ctx)
	if s == nil || s.requestID == "" {
		return "", false
	}
	return s.requestID, true
}

// ContextWithSessionID binds id to the request scope of ctx, creating a scope
// when ctx has none.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ctx
	}
	if s := scopeFrom(ctx); s != nil {
		s.setSession(trimmed)
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey, &scope{sessionID: trimmed})
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		return "", false
	}
	id := s.session()
	return id, id != ""
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey).(*slog.Logger)
	return logger
}

// WithContext annotates a bare logger with every identifier held by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		logger = logger.With("request_id", requestID)
	}
	if sessionID, ok := SessionIDFromContext(ctx); ok {
		logger = logger.With("session_id", sessionID)
	}
	return logger
}

// BindSession records sessionID on the request and derives the logger for
// the authenticated remainder of the call. logger already carries the
// request id, so only session_id is added. The derived logger is also stored
// on the returned context.
func BindSession(ctx context.Context, logger *slog.Logger, sessionID string) (context.Context, *slog.Logger) {
	ctx = ContextWithSessionID(ctx, sessionID)
	if logger == nil {
		logger = WithContext(ctx, slog.Default())
		return ContextWithLogger(ctx, logger), logger
	}
	if id, ok := SessionIDFromContext(ctx); ok {
		logger = logger.With("session_id", id)
	}
	return ContextWithLogger(ctx, logger), logger
}
