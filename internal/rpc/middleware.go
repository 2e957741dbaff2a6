package rpc

import (
	"context"
	"strings"

	"template-backend/internal/apperr"
	"template-backend/internal/models"
	"template-backend/internal/observability/logging"
)

// Interceptor wraps the Handler of one procedure. It is applied once when the
// Router is built.
type Interceptor func(contract Contract, next Handler) Handler

// SessionResolver looks up a session identifier. It returns nil without
// error when the session does not exist.
type SessionResolver interface {
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
}

// MapAppErrors converts taxonomy errors returned further down the chain into
// wire errors. Other errors pass through unchanged.
func MapAppErrors() Interceptor {
	return func(contract Contract, next Handler) Handler {
		return func(ctx context.Context, call Call) (any, error) {
			out, err := next(ctx, call)
			if err == nil {
				return out, nil
			}
			if appErr, ok := apperr.As(err); ok {
				return nil, fromAppError(contract, appErr)
			}
			return nil, err
		}
	}
}

// RequireSession resolves the X-Session-Id header on protected procedures.
// A missing header and an unknown session yield the same error. Public
// procedures are returned unwrapped.
func RequireSession(resolver SessionResolver) Interceptor {
	return func(contract Contract, next Handler) Handler {
		if !contract.Protected {
			return next
		}
		return func(ctx context.Context, call Call) (any, error) {
			rc := call.Context
			if rc.Session != nil {
				return next(ctx, call)
			}

			sessionID := strings.TrimSpace(rc.Headers.Get(SessionHeader))
			if sessionID == "" {
				return nil, apperr.Unauthorized("Session required")
			}
			session, err := resolver.GetByID(ctx, sessionID)
			if err != nil {
				return nil, apperr.Internal("Session lookup failed", err)
			}
			if session == nil {
				return nil, apperr.Unauthorized("Session required")
			}

			ctx, logger := logging.BindSession(ctx, rc.Logger, session.SessionID)
			authed := rc.WithSession(session).WithLogger(logger)
			return next(ctx, Call{Context: authed, Input: call.Input})
		}
	}
}
