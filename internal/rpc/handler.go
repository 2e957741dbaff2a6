package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"template-backend/internal/apperr"
)

const maxRequestBody = 1 << 20

type envelope struct {
	JSON json.RawMessage `json:"json"`
}

// HTTPHandler exposes a Router over HTTP.
type HTTPHandler struct {
	router  *Router
	builder *ContextBuilder
	prefix  string
}

// NewHTTPHandler serves router under prefix (for example "/rpc").
func NewHTTPHandler(router *Router, builder *ContextBuilder, prefix string) *HTTPHandler {
	if builder == nil {
		builder = &ContextBuilder{}
	}
	return &HTTPHandler{
		router:  router,
		builder: builder,
		prefix:  "/" + strings.Trim(prefix, "/"),
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := h.builder.Build(r)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeRPCError(w, rc.Logger, &Error{Code: CodeMethodNotSupported, Status: http.StatusMethodNotAllowed, Message: "Method not supported"})
		return
	}

	path, ok := h.procedurePath(r.URL.Path)
	if !ok {
		writeRPCError(w, rc.Logger, procedureNotFound())
		return
	}

	input, err := readInput(w, r)
	if err != nil {
		writeRPCError(w, rc.Logger, err)
		return
	}

	out, err := h.router.Call(r.Context(), path, rc, input)
	if err != nil {
		writeRPCError(w, rc.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"json": out})
}

// RouteLabel names r for request metrics: its URL path when it addresses a
// registered procedure, else the prefix followed by "/:unknown".
func (h *HTTPHandler) RouteLabel(r *http.Request) string {
	if path, ok := h.procedurePath(r.URL.Path); ok {
		if _, known := h.router.Contract(path); known {
			return r.URL.Path
		}
	}
	return strings.TrimSuffix(h.prefix, "/") + "/:unknown"
}

// procedurePath maps {prefix}/{group}/{method} to "group.method".
func (h *HTTPHandler) procedurePath(urlPath string) (string, bool) {
	rest := strings.TrimPrefix(urlPath, h.prefix)
	if rest == urlPath && h.prefix != "/" {
		return "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

func readInput(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &Error{Code: CodeBadRequest, Status: http.StatusRequestEntityTooLarge, Message: "Request body too large"}
		}
		return nil, badRequest("Malformed request body", nil)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, badRequest("Malformed request body", nil)
	}
	return env.JSON, nil
}

// writeRPCError renders err as a wire error. Errors outside the taxonomy are
// logged and replaced with a generic internal error.
func writeRPCError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		if appErr, ok := apperr.As(err); ok {
			rpcErr = fromAppError(Contract{}, appErr)
		} else {
			rpcErr = internalError(err)
		}
	}

	if rpcErr.Status >= http.StatusInternalServerError && logger != nil {
		cause := errors.Unwrap(rpcErr)
		if cause == nil {
			cause = rpcErr
		}
		logger.Error("rpc call failed", "code", rpcErr.Code, "error", cause)
	}

	if data, ok := rpcErr.Data.(apperr.RateLimitData); ok {
		w.Header().Set("Retry-After", strconv.Itoa(data.RetryAfter))
	}
	writeJSON(w, rpcErr.Status, map[string]any{"json": rpcErr.wire()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError renders err using the wire error shape. It is used by HTTP
// middleware that rejects requests before they reach the Router.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	writeRPCError(w, logger, err)
}
