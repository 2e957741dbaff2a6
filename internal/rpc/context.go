package rpc

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"template-backend/internal/models"
	"template-backend/internal/observability/logging"
	"template-backend/internal/storage"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries a caller-supplied request identifier.
	RequestIDHeader = "X-Request-Id"
	// SessionHeader carries the session identifier on protected calls.
	SessionHeader = "X-Session-Id"

	unknownIP = "0.0.0.0"
)

// Context is the per-call state handed to interceptors and handlers.
// Session stays nil until RequireSession resolves it.
type Context struct {
	RequestID string
	IPAddress string
	Logger    *slog.Logger
	Store     storage.Repository
	Headers   http.Header
	Session   *models.Session
}

// WithSession returns a copy of c carrying session. c is left untouched.
func (c *Context) WithSession(session *models.Session) *Context {
	clone := *c
	clone.Session = session
	return &clone
}

// WithLogger returns a copy of c using logger.
func (c *Context) WithLogger(logger *slog.Logger) *Context {
	clone := *c
	if logger != nil {
		clone.Logger = logger
	}
	return &clone
}

// ContextBuilder derives a Context from an inbound HTTP request.
type ContextBuilder struct {
	Store  storage.Repository
	Logger *slog.Logger
}

// Build never fails: missing request data falls back to generated or
// placeholder values.
func (b *ContextBuilder) Build(r *http.Request) *Context {
	ctx := r.Context()

	requestID, ok := logging.RequestIDFromContext(ctx)
	if !ok {
		requestID = strings.TrimSpace(r.Header.Get(RequestIDHeader))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	// A logger stored by the request id middleware already carries the id.
	logger := logging.LoggerFromContext(ctx)
	if logger == nil {
		base := b.Logger
		if base == nil {
			base = slog.Default()
		}
		logger = base.With("request_id", requestID)
	}

	return &Context{
		RequestID: requestID,
		IPAddress: ClientIP(r),
		Logger:    logger,
		Store:     b.Store,
		Headers:   r.Header.Clone(),
	}
}

// ClientIP returns the first X-Forwarded-For entry, else the host part of
// RemoteAddr, else 0.0.0.0. Forwarded headers are trusted as given.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return unknownIP
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		if host == "" {
			return unknownIP
		}
		return host
	}
	return remote
}
