package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"template-backend/internal/api"
	"template-backend/internal/observability/logging"
	"template-backend/internal/observability/metrics"
	"template-backend/internal/rpc"
)

// RPCPrefix is the path prefix of the procedure surface.
const RPCPrefix = "/rpc"

// Config configures the HTTP server.
type Config struct {
	Addr        string
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	RateLimiter *RateLimiter
	CORS        CORSConfig
	Security    SecurityConfig

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Handlers are the endpoints the server mounts.
type Handlers struct {
	RPC    http.Handler
	Health *api.HealthHandler
}

// Server wraps an http.Server with the application routes.
type Server struct {
	httpServer *http.Server
}

// New assembles the mux and middleware chain.
func New(handlers Handlers, cfg Config) (*Server, error) {
	if handlers.RPC == nil {
		return nil, errors.New("server: rpc handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	health := handlers.Health
	if health == nil {
		health = &api.HealthHandler{}
	}
	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.Live)
	mux.HandleFunc("/healthz", health.Report)
	mux.Handle("/metrics", recorder.Handler())
	mux.Handle(RPCPrefix+"/", handlers.RPC)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		rpc.WriteError(w, nil, &rpc.Error{Code: rpc.CodeNotFound, Status: http.StatusNotFound, Message: "Not found"})
	})

	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(cfg.RateLimiter, recorder, logger, handlerChain)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.Middleware(recorder, metricsRoute(handlers.RPC))(handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger: logger,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			return []any{"client_ip", rpc.ClientIP(r)}
		},
	})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: durationOr(cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       durationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      durationOr(cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       durationOr(cfg.IdleTimeout, 60*time.Second),
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return &Server{httpServer: httpServer}, nil
}

type routeLabeler interface {
	RouteLabel(r *http.Request) string
}

// metricsRoute leaves /metrics scrapes uncounted and asks the RPC handler to
// label procedure URLs so unknown paths share one series.
func metricsRoute(rpcHandler http.Handler) metrics.RouteFunc {
	labeler, _ := rpcHandler.(routeLabeler)
	return func(r *http.Request) (string, bool) {
		path := r.URL.Path
		switch {
		case path == "/metrics":
			return "", false
		case labeler != nil && strings.HasPrefix(path, RPCPrefix+"/"):
			return labeler.RouteLabel(r), true
		}
		return path, true
	}
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// HTTPServer returns the underlying server for the process runner.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
