package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Path names a procedure as group and method.
type Path struct {
	Group  string
	Method string
}

func (p Path) String() string {
	return p.Group + "." + p.Method
}

// Contract is the declared shape of a procedure. Errors lists the codes the
// procedure may return as defined errors.
type Contract struct {
	Path      Path
	Protected bool
	Errors    []string
}

// Declares reports whether code is part of the contract.
func (c Contract) Declares(code string) bool {
	for _, declared := range c.Errors {
		if declared == code {
			return true
		}
	}
	return false
}

// Call is the input to a Handler.
type Call struct {
	Context *Context
	Input   json.RawMessage
}

// Handler runs one stage of a procedure call.
type Handler func(ctx context.Context, call Call) (any, error)

// Procedure binds a Contract to its implementation.
type Procedure struct {
	Contract Contract
	bind     func(*validator.Validate) Handler
}

// Define builds a Procedure from a typed handler. Input is decoded and
// validated before fn runs; output is validated before it is returned.
func Define[In, Out any](contract Contract, fn func(ctx context.Context, rc *Context, in In) (Out, error)) Procedure {
	return Procedure{
		Contract: contract,
		bind: func(validate *validator.Validate) Handler {
			return func(ctx context.Context, call Call) (any, error) {
				var in In
				if err := decodeInput(call.Input, &in); err != nil {
					return nil, err
				}
				if issues := validateValue(validate, in); len(issues) > 0 {
					return nil, badRequest("Input validation failed", issues)
				}

				out, err := fn(ctx, call.Context, in)
				if err != nil {
					return nil, err
				}
				if issues := validateValue(validate, out); len(issues) > 0 {
					call.Context.Logger.Error("output validation failed", "path", contract.Path.String(), "issues", issues)
					return nil, internalError(fmt.Errorf("output validation failed for %s", contract.Path))
				}
				return out, nil
			}
		},
	}
}

func decodeInput(raw json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return badRequest("Input validation failed", []Issue{{Path: "", Message: decodeMessage(err)}})
	}
	return nil
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type)
		}
		return fmt.Sprintf("input must be of type %s", typeErr.Type)
	}
	return "input is not valid JSON"
}
