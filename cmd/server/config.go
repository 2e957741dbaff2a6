package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	roleAPI    = "api"
	roleWorker = "worker"
	roleAll    = "all"
)

type config struct {
	Mode string
	Role string
	Addr string

	StorageDriver          string
	DataPath               string
	DatabaseURL            string
	PostgresMaxConns       int
	PostgresMinConns       int
	PostgresAcquireTimeout time.Duration
	PostgresAppName        string
	PostgresMigrate        bool

	RedisURL string

	LogLevel  string
	LogFormat string

	TLSCert string
	TLSKey  string

	RateGlobalRPS   float64
	RateGlobalBurst int
	RateIPLimit     int
	RateIPWindow    time.Duration
	CORSOrigins     []string

	ReconcileInterval time.Duration
}

func (c config) servesAPI() bool {
	return c.Role == roleAPI || c.Role == roleAll
}

func (c config) runsWorkers() bool {
	return c.Role == roleWorker || c.Role == roleAll
}

// dotEnvFiles lists the env files to load for mode, most specific first.
func dotEnvFiles(mode string) []string {
	if strings.EqualFold(strings.TrimSpace(mode), "test") {
		return []string{".env.test.local", ".env.test", ".env.local", ".env"}
	}
	return []string{".env.local", ".env"}
}

// loadDotEnv reads the given files in order. Variables already present in
// the environment, including ones set by an earlier file, are kept.
func loadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func loadConfig(args []string) (config, error) {
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := flags.String("addr", "", "HTTP listen address")
	mode := flags.String("mode", "", "runtime mode (development, test or production)")
	role := flags.String("role", "", "process role (api, worker or all)")
	storageDriver := flags.String("storage-driver", "", "datastore driver (json or postgres)")
	dataPath := flags.String("data", "", "path to JSON datastore")
	postgresDSN := flags.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flags.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flags.Int("postgres-min-conns", 0, "minimum idle connections kept by the Postgres pool")
	postgresAcquireTimeout := flags.Duration("postgres-acquire-timeout", 0, "timeout when connecting to Postgres")
	postgresAppName := flags.String("postgres-app-name", "", "application_name reported to Postgres")
	postgresMigrate := flags.Bool("postgres-migrate", false, "apply the schema when the datastore opens")
	redisURL := flags.String("redis-url", "", "Redis URL for the job queue and shared rate limits")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flags.String("log-format", "", "log format (json or text)")
	tlsCert := flags.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flags.String("tls-key", "", "path to TLS private key file")
	globalRPS := flags.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flags.Int("rate-global-burst", 0, "global rate limit burst allowance")
	ipLimit := flags.Int("rate-ip-limit", 0, "maximum requests per window for a single client IP")
	ipWindow := flags.Duration("rate-ip-window", 0, "window for counting per-IP requests")
	corsOrigins := flags.String("cors-origins", "", "comma separated browser origins allowed to call the API")
	reconcileInterval := flags.Duration("queue-reconcile-interval", 0, "interval between stale job reclaim passes")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		Mode:                   strings.ToLower(firstNonEmpty(*mode, os.Getenv("APP_MODE"), "development")),
		Role:                   strings.ToLower(firstNonEmpty(*role, os.Getenv("ROLE"), roleAll)),
		Addr:                   resolveListenAddr(*addr, os.Getenv("PORT")),
		DataPath:               firstNonEmpty(*dataPath, os.Getenv("DATA_PATH"), "data/store.json"),
		DatabaseURL:            firstNonEmpty(*postgresDSN, os.Getenv("DATABASE_URL")),
		PostgresMaxConns:       resolveInt(*postgresMaxConns, "POSTGRES_MAX_CONNS"),
		PostgresMinConns:       resolveInt(*postgresMinConns, "POSTGRES_MIN_CONNS"),
		PostgresAcquireTimeout: resolveDuration(*postgresAcquireTimeout, "POSTGRES_ACQUIRE_TIMEOUT", 0),
		PostgresAppName:        firstNonEmpty(*postgresAppName, os.Getenv("POSTGRES_APP_NAME")),
		PostgresMigrate:        resolveBool(*postgresMigrate, "POSTGRES_MIGRATE"),
		RedisURL:               firstNonEmpty(*redisURL, os.Getenv("REDIS_URL")),
		LogLevel:               firstNonEmpty(*logLevel, os.Getenv("LOG_LEVEL"), "info"),
		LogFormat:              firstNonEmpty(*logFormat, os.Getenv("LOG_FORMAT")),
		TLSCert:                firstNonEmpty(*tlsCert, os.Getenv("TLS_CERT")),
		TLSKey:                 firstNonEmpty(*tlsKey, os.Getenv("TLS_KEY")),
		RateGlobalRPS:          resolveFloat(*globalRPS, "RATE_GLOBAL_RPS"),
		RateGlobalBurst:        resolveInt(*globalBurst, "RATE_GLOBAL_BURST"),
		RateIPLimit:            resolveInt(*ipLimit, "RATE_IP_LIMIT"),
		RateIPWindow:           resolveDuration(*ipWindow, "RATE_IP_WINDOW", time.Minute),
		CORSOrigins:            splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("CORS_ORIGINS"))),
		ReconcileInterval:      resolveDuration(*reconcileInterval, "QUEUE_RECONCILE_INTERVAL", 15*time.Second),
	}

	switch cfg.Mode {
	case "development", "test", "production":
	default:
		return config{}, fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
	switch cfg.Role {
	case roleAPI, roleWorker, roleAll:
	default:
		return config{}, fmt.Errorf("unsupported role %q", cfg.Role)
	}

	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("STORAGE_DRIVER"), cfg.DatabaseURL)
	if err != nil {
		return config{}, err
	}
	cfg.StorageDriver = driver
	if cfg.Mode == "production" {
		if err := validateProductionDatastore(cfg.StorageDriver, cfg.DatabaseURL); err != nil {
			return config{}, err
		}
	}
	if cfg.StorageDriver == "postgres" && cfg.DatabaseURL == "" {
		return config{}, errors.New("postgres storage selected without DATABASE_URL")
	}
	return cfg, nil
}

func resolveListenAddr(flagValue, port string) string {
	if addr := strings.TrimSpace(flagValue); addr != "" {
		return addr
	}
	if port = strings.TrimSpace(port); port != "" {
		return ":" + port
	}
	return ":3000"
}

// resolveStorageDriver prefers an explicit driver, then postgres when a DSN
// is present, then the JSON file store.
func resolveStorageDriver(flagValue, envValue, databaseURL string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	if driver == "" {
		if strings.TrimSpace(databaseURL) != "" {
			return "postgres", nil
		}
		return "json", nil
	}
	switch driver {
	case "json", "postgres":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func validateProductionDatastore(driver, databaseURL string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(databaseURL) == "" {
		return errors.New("production mode requires DATABASE_URL to be set")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.ParseFloat(env, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
