package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SumQueue is the name of the built-in addition queue.
const SumQueue = "sum"

// SumInput is the payload of a sum job.
type SumInput struct {
	A *float64 `json:"a" validate:"required"`
	B *float64 `json:"b" validate:"required"`
}

// SumOutput is the result of a sum job.
type SumOutput struct {
	Sum float64 `json:"sum"`
}

// SumDefinition declares the sum queue.
func SumDefinition(validate *validator.Validate) Definition {
	return Definition{
		Name: SumQueue,
		Process: Typed(validate, func(_ context.Context, in SumInput) (SumOutput, error) {
			return SumOutput{Sum: *in.A + *in.B}, nil
		}),
		Options: Options{
			Attempts:    3,
			Backoff:     500 * time.Millisecond,
			Timeout:     10 * time.Second,
			Concurrency: 5,
		},
	}
}

// Typed adapts fn into a ProcessFunc that decodes and validates its payload.
// In must be a struct. Undecodable or invalid payloads fail with
// ErrInvalidPayload.
func Typed[In, Out any](validate *validator.Validate, fn func(ctx context.Context, in In) (Out, error)) ProcessFunc {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in In
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := validate.StructCtx(ctx, in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return fn(ctx, in)
	}
}
