package api

import (
	"context"
	"strings"

	"template-backend/internal/apperr"
	"template-backend/internal/auth"
	"template-backend/internal/models"
	"template-backend/internal/observability/logging"
	"template-backend/internal/rpc"
)

const unknownUserAgent = "UNKNOWN"

// CreateSessionInput is the input of session.createSession.
type CreateSessionInput struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// CreateSessionOutput carries the identifier clients send as X-Session-Id.
type CreateSessionOutput struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// GetSessionInput is the input of session.getById.
type GetSessionInput struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func sessionProcedures(sessions *auth.SessionService) []rpc.Procedure {
	return []rpc.Procedure{
		rpc.Define(rpc.Contract{
			Path: rpc.Path{Group: "session", Method: "createSession"},
		}, func(ctx context.Context, rc *rpc.Context, in CreateSessionInput) (CreateSessionOutput, error) {
			session, err := sessions.Create(ctx, auth.CreateSessionParams{
				Kind:      models.SessionKindUser,
				IPAddress: rc.IPAddress,
				UserAgent: resolveUserAgent(in.UserAgent, rc),
			})
			if err != nil {
				return CreateSessionOutput{}, err
			}
			_, logger := logging.BindSession(ctx, rc.Logger, session.SessionID)
			logger.Info("session created")
			return CreateSessionOutput{SessionID: session.SessionID}, nil
		}),
		rpc.Define(rpc.Contract{
			Path:      rpc.Path{Group: "session", Method: "getById"},
			Protected: true,
			Errors:    []string{apperr.CodeNotFound, apperr.CodeUnauthorized},
		}, func(ctx context.Context, _ *rpc.Context, in GetSessionInput) (models.Session, error) {
			session, err := sessions.GetByID(ctx, in.SessionID)
			if err != nil {
				return models.Session{}, err
			}
			if session == nil {
				return models.Session{}, apperr.NotFound("Session not found")
			}
			return *session, nil
		}),
	}
}

// resolveUserAgent prefers the explicit input, then the request header.
func resolveUserAgent(input string, rc *rpc.Context) string {
	if input != "" {
		return input
	}
	if header := strings.TrimSpace(rc.Headers.Get("User-Agent")); header != "" {
		return header
	}
	return unknownUserAgent
}
