package api

import (
	"context"
	"fmt"

	"template-backend/internal/apperr"
	"template-backend/internal/rpc"

	"golang.org/x/text/cases"
)

// GreetInput is the input of hello.greet.
type GreetInput struct {
	Name string `json:"name" validate:"min=1"`
}

func helloProcedures() []rpc.Procedure {
	return []rpc.Procedure{
		rpc.Define(rpc.Contract{
			Path:      rpc.Path{Group: "hello", Method: "greet"},
			Protected: true,
			Errors:    []string{apperr.CodeRateLimited, apperr.CodeValidation, apperr.CodeUnauthorized},
		}, greet),
	}
}

func greet(_ context.Context, rc *rpc.Context, in GreetInput) (string, error) {
	// A Caser carries state, so each call gets its own.
	switch cases.Fold().String(in.Name) {
	case "rate":
		return "", apperr.RateLimited(1)
	case "bad":
		return "", apperr.Validation("Bad name", "name")
	}
	return fmt.Sprintf("Hello, %s ! with session: %s", in.Name, rc.Session.SessionID), nil
}
