// Command server runs the RPC API, the queue workers, or both, depending on
// ROLE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"template-backend/internal/api"
	"template-backend/internal/auth"
	"template-backend/internal/observability/logging"
	"template-backend/internal/observability/metrics"
	"template-backend/internal/queue"
	"template-backend/internal/rpc"
	"template-backend/internal/server"
	"template-backend/internal/serverutil"
	"template-backend/internal/storage"
	"template-backend/internal/users"
)

const closeTimeout = 10 * time.Second

func main() {
	if err := loadDotEnv(dotEnvFiles(os.Getenv("APP_MODE"))...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "template-backend"})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	recorder := metrics.Default()

	store, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer closeWithTimeout(logger, "datastore", store.Close)

	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisClient = client
	}

	queues, err := newQueueService(redisClient, logger, recorder)
	if err != nil {
		return fmt.Errorf("configure queues: %w", err)
	}
	defer queues.Close()

	var tasks []serverutil.Task
	if cfg.servesAPI() {
		srv, err := newHTTPServer(cfg, store, queues, redisClient, logger, recorder)
		if err != nil {
			return fmt.Errorf("initialise server: %w", err)
		}
		tasks = append(tasks, serverutil.HTTPTask("http", serverutil.Config{
			Server: srv.HTTPServer(),
			TLS:    serverutil.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		}))
	}
	if cfg.runsWorkers() {
		tasks = append(tasks,
			serverutil.Task{Name: "queue-workers", Run: queues.Run},
			reconcileTask(queues, cfg.ReconcileInterval, logging.WithComponent(logger, "queue-reconcile")),
		)
	}

	logger.Info("starting",
		"mode", cfg.Mode,
		"role", cfg.Role,
		"storage", cfg.StorageDriver,
		"addr", cfg.Addr,
		"redis", redisClient != nil,
	)
	return serverutil.RunGroup(ctx, logger, tasks...)
}

func openRepository(ctx context.Context, cfg config) (storage.Repository, error) {
	switch cfg.StorageDriver {
	case "json":
		return storage.NewJSONRepository(cfg.DataPath)
	case "postgres":
		opts := []storage.Option{storage.WithPostgresMigrations(cfg.PostgresMigrate)}
		if cfg.PostgresMaxConns > 0 || cfg.PostgresMinConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(cfg.PostgresMaxConns), int32(cfg.PostgresMinConns)))
		}
		if cfg.PostgresAcquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(cfg.PostgresAcquireTimeout))
		}
		if cfg.PostgresAppName != "" {
			opts = append(opts, storage.WithPostgresApplicationName(cfg.PostgresAppName))
		}
		return storage.NewPostgresRepository(ctx, cfg.DatabaseURL, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// newRedisClient parses url, connects and verifies the server answers.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// newQueueService picks Redis Streams when a client is available and the
// in-process backend otherwise, then registers the built-in queues.
func newQueueService(client redis.UniversalClient, logger *slog.Logger, recorder *metrics.Recorder) (*queue.Service, error) {
	queueLogger := logging.WithComponent(logger, "queue")
	var backend queue.Backend
	if client != nil {
		redisBackend, err := queue.NewRedisBackend(queue.RedisConfig{Client: client, Logger: queueLogger})
		if err != nil {
			return nil, err
		}
		backend = redisBackend
	} else {
		backend = queue.NewMemoryBackend()
	}
	svc := queue.NewService(backend, queue.WithLogger(queueLogger), queue.WithRecorder(recorder))
	if err := svc.Define(queue.SumDefinition(rpc.NewValidator())); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func newHTTPServer(
	cfg config,
	store storage.Repository,
	queues *queue.Service,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	recorder *metrics.Recorder,
) (*server.Server, error) {
	sessions := auth.NewSessionService(store, auth.WithLogger(logging.WithComponent(logger, "sessions")))
	router, err := api.NewRouter(api.Deps{
		Sessions: sessions,
		Users:    users.NewService(store),
		Recorder: recorder,
	})
	if err != nil {
		return nil, err
	}

	var windowStore server.WindowStore
	if redisClient != nil {
		windowStore, err = server.NewRedisStore(redisClient, "")
		if err != nil {
			return nil, err
		}
	}
	limiter := server.NewRateLimiter(server.RateLimitConfig{
		GlobalRPS:   cfg.RateGlobalRPS,
		GlobalBurst: cfg.RateGlobalBurst,
		IPLimit:     cfg.RateIPLimit,
		IPWindow:    cfg.RateIPWindow,
	}, windowStore)

	health := &api.HealthHandler{Checks: healthChecks(store, queues, limiter)}

	security := server.SecurityConfig{}
	if cfg.Mode == "production" {
		security.HSTSMaxAge = "63072000"
	}

	return server.New(server.Handlers{
		RPC:    rpc.NewHTTPHandler(router, &rpc.ContextBuilder{Store: store, Logger: logger}, server.RPCPrefix),
		Health: health,
	}, server.Config{
		Addr:        cfg.Addr,
		Logger:      logger,
		Metrics:     recorder,
		RateLimiter: limiter,
		CORS:        server.CORSConfig{Origins: cfg.CORSOrigins},
		Security:    security,
	})
}

func healthChecks(store storage.Repository, queues *queue.Service, limiter *server.RateLimiter) []api.HealthCheck {
	return []api.HealthCheck{
		{Component: "datastore", Ping: store.Ping},
		{Component: "queue", Ping: queues.Ping},
		{Component: "rate_limiter", Ping: limiter.Ping},
	}
}

func reconcileTask(queues *queue.Service, interval time.Duration, logger *slog.Logger) serverutil.Task {
	return serverutil.Every("queue-reconcile", interval, logger, func(ctx context.Context) error {
		_, err := queues.Reconcile(ctx)
		return err
	})
}

func closeWithTimeout(logger *slog.Logger, name string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		logger.Warn("failed to close "+name, "error", err)
	}
}
