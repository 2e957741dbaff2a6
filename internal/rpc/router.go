package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"template-backend/internal/apperr"
	"template-backend/internal/observability/metrics"

	"github.com/go-playground/validator/v10"
)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithInterceptors sets the interceptor chain, outermost first.
func WithInterceptors(interceptors ...Interceptor) RouterOption {
	return func(r *Router) {
		r.interceptors = append(r.interceptors, interceptors...)
	}
}

// WithRecorder records per-procedure outcomes on recorder.
func WithRecorder(recorder *metrics.Recorder) RouterOption {
	return func(r *Router) {
		r.recorder = recorder
	}
}

// WithValidator replaces the default validator.
func WithValidator(validate *validator.Validate) RouterOption {
	return func(r *Router) {
		if validate != nil {
			r.validate = validate
		}
	}
}

type route struct {
	contract Contract
	handler  Handler
}

// Router dispatches calls to procedures. It is immutable once built.
type Router struct {
	routes       map[string]route
	interceptors []Interceptor
	validate     *validator.Validate
	recorder     *metrics.Recorder
}

// NewRouter composes every procedure with the interceptor chain. Duplicate
// paths are rejected.
func NewRouter(procedures []Procedure, opts ...RouterOption) (*Router, error) {
	router := &Router{routes: make(map[string]route, len(procedures))}
	for _, opt := range opts {
		if opt != nil {
			opt(router)
		}
	}
	if router.validate == nil {
		router.validate = NewValidator()
	}

	for _, proc := range procedures {
		key := proc.Contract.Path.String()
		if proc.Contract.Path.Group == "" || proc.Contract.Path.Method == "" {
			return nil, fmt.Errorf("rpc: procedure path %q is incomplete", key)
		}
		if proc.bind == nil {
			return nil, fmt.Errorf("rpc: procedure %s has no handler", key)
		}
		if _, exists := router.routes[key]; exists {
			return nil, fmt.Errorf("rpc: duplicate procedure %s", key)
		}
		handler := proc.bind(router.validate)
		for i := len(router.interceptors) - 1; i >= 0; i-- {
			handler = router.interceptors[i](proc.Contract, handler)
		}
		router.routes[key] = route{contract: proc.Contract, handler: handler}
	}
	return router, nil
}

// Paths lists the registered procedures in sorted order.
func (r *Router) Paths() []string {
	paths := make([]string, 0, len(r.routes))
	for path := range r.routes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Contract returns the contract registered under path.
func (r *Router) Contract(path string) (Contract, bool) {
	rt, ok := r.routes[path]
	return rt.contract, ok
}

// Call runs the procedure registered under path ("group.method") with a raw
// JSON input.
func (r *Router) Call(ctx context.Context, path string, rc *Context, input json.RawMessage) (any, error) {
	rt, ok := r.routes[path]
	if !ok {
		return nil, procedureNotFound()
	}
	if rc == nil {
		rc = &Context{}
	}
	if rc.Logger == nil {
		rc = rc.WithLogger(slog.Default())
	}

	start := time.Now()
	out, err := rt.handler(ctx, Call{Context: rc, Input: input})
	r.recorder.ObserveProcedure(path, outcomeCode(err), time.Since(start))
	return out, err
}

// Invoke calls a procedure in-process with typed input and output.
func Invoke[In, Out any](ctx context.Context, r *Router, path string, rc *Context, in In) (Out, error) {
	var zero Out
	raw, err := json.Marshal(in)
	if err != nil {
		return zero, fmt.Errorf("rpc: encode input for %s: %w", path, err)
	}
	out, err := r.Call(ctx, path, rc, raw)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(Out)
	if !ok {
		return zero, fmt.Errorf("rpc: %s returned %T", path, out)
	}
	return typed, nil
}

func outcomeCode(err error) string {
	if err == nil {
		return "OK"
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
