package rpc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"template-backend/internal/apperr"
	"template-backend/internal/models"
)

type fakeResolver struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	err      error
	calls    []string
}

func newFakeResolver(ids ...string) *fakeResolver {
	resolver := &fakeResolver{sessions: make(map[string]*models.Session)}
	for _, id := range ids {
		resolver.sessions[id] = &models.Session{ID: 1, SessionID: id, Kind: models.SessionKindUser}
	}
	return resolver
}

func (f *fakeResolver) GetByID(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[id], nil
}

type echoInput struct {
	Name string `json:"name" validate:"min=1"`
}

type echoOutput struct {
	Message string `json:"message" validate:"required"`
}

var errOpaque = errors.New("database exploded")

// testProcedures covers each outcome a handler can produce.
func testProcedures() []Procedure {
	return []Procedure{
		Define(Contract{Path: Path{"test", "echo"}, Protected: true, Errors: []string{apperr.CodeUnauthorized, apperr.CodeValidation}},
			func(_ context.Context, rc *Context, in echoInput) (echoOutput, error) {
				switch in.Name {
				case "bad":
					return echoOutput{}, apperr.Validation("Bad name", "name")
				case "missing":
					return echoOutput{}, apperr.NotFound("Nothing here")
				case "boom":
					return echoOutput{}, errOpaque
				case "slow":
					return echoOutput{}, apperr.RateLimited(7)
				case "empty":
					return echoOutput{}, nil
				}
				session := ""
				if rc.Session != nil {
					session = rc.Session.SessionID
				}
				return echoOutput{Message: in.Name + "/" + session}, nil
			}),
		Define(Contract{Path: Path{"test", "public"}},
			func(_ context.Context, rc *Context, _ struct{}) (string, error) {
				return "ip=" + rc.IPAddress, nil
			}),
	}
}

func newTestRouter(t *testing.T, resolver SessionResolver, opts ...RouterOption) *Router {
	t.Helper()
	opts = append([]RouterOption{WithInterceptors(MapAppErrors(), RequireSession(resolver))}, opts...)
	router, err := NewRouter(testProcedures(), opts...)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func newTestContext(headers map[string]string) (*Context, *bytes.Buffer) {
	var buf bytes.Buffer
	rc := &Context{
		RequestID: "req-1",
		IPAddress: "127.0.0.1",
		Logger:    slog.New(slog.NewJSONHandler(&buf, nil)),
		Headers:   make(map[string][]string),
	}
	for k, v := range headers {
		rc.Headers.Set(k, v)
	}
	return rc, &buf
}

func requireRPCError(t *testing.T, err error, code string, status int) *Error {
	t.Helper()
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *rpc.Error, got %T: %v", err, err)
	}
	if rpcErr.Code != code || rpcErr.Status != status {
		t.Fatalf("expected %s/%d, got %s/%d (%s)", code, status, rpcErr.Code, rpcErr.Status, rpcErr.Message)
	}
	return rpcErr
}
