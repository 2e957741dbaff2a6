package server

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"template-backend/internal/apperr"
	"template-backend/internal/observability/logging"
	"template-backend/internal/observability/metrics"
	"template-backend/internal/rpc"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request throughput. Zero values disable a limit.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	IPLimit     int
	IPWindow    time.Duration
}

// WindowStore counts requests per key in fixed windows shared across
// processes.
type WindowStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Ping(ctx context.Context) error
}

// RateLimiter applies a global token bucket and a per-client limit.
type RateLimiter struct {
	global   *rate.Limiter
	ipLimit  int
	ipWindow time.Duration
	store    WindowStore

	mu      sync.Mutex
	buckets map[string]*ipLimiter
	now     func() time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter. When store is non-nil the per-client
// limit is enforced there instead of in process memory.
func NewRateLimiter(cfg RateLimitConfig, store WindowStore) *RateLimiter {
	rl := &RateLimiter{
		ipLimit:  cfg.IPLimit,
		ipWindow: cfg.IPWindow,
		store:    store,
		buckets:  make(map[string]*ipLimiter),
		now:      time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.GlobalRPS))
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.ipLimit < 0 {
		rl.ipLimit = 0
	}
	if rl.ipWindow <= 0 {
		rl.ipWindow = time.Minute
	}
	return rl
}

// AllowRequest consumes a global token. On rejection it reports how long the
// caller should wait.
func (r *RateLimiter) AllowRequest() (bool, time.Duration) {
	if r == nil || r.global == nil {
		return true, 0
	}
	return reserve(r.global, r.now())
}

// AllowIP applies the per-client limit to key.
func (r *RateLimiter) AllowIP(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.ipLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, "ratelimit:ip:"+key, r.ipLimit, r.ipWindow)
	}

	now := r.now()
	r.mu.Lock()
	bucket, exists := r.buckets[key]
	if !exists {
		every := r.ipWindow / time.Duration(r.ipLimit)
		bucket = &ipLimiter{limiter: rate.NewLimiter(rate.Every(every), r.ipLimit)}
		r.buckets[key] = bucket
	}
	bucket.lastSeen = now
	r.cleanupLocked(now)
	r.mu.Unlock()

	allowed, retryAfter := reserve(bucket.limiter, now)
	return allowed, retryAfter, nil
}

// Ping reports whether the shared store is reachable.
func (r *RateLimiter) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *RateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-2 * r.ipWindow)
	for key, bucket := range r.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
		}
	}
}

func reserve(limiter *rate.Limiter, now time.Time) (bool, time.Duration) {
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func rateLimitMiddleware(rl *RateLimiter, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rateLimited(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		reqLogger := requestLogger(r, logger)

		if allowed, retryAfter := rl.AllowRequest(); !allowed {
			recorder.ObserveRateLimited("global")
			rpc.WriteError(w, reqLogger, apperr.RateLimited(retryAfterSeconds(retryAfter)))
			return
		}

		allowed, retryAfter, err := rl.AllowIP(r.Context(), rpc.ClientIP(r))
		if err != nil {
			reqLogger.Error("rate limiter failure", "error", err)
			rpc.WriteError(w, nil, &rpc.Error{
				Code:    "SERVICE_UNAVAILABLE",
				Status:  http.StatusServiceUnavailable,
				Message: "Rate limiter unavailable",
			})
			return
		}
		if !allowed {
			recorder.ObserveRateLimited("ip")
			rpc.WriteError(w, reqLogger, apperr.RateLimited(retryAfterSeconds(retryAfter)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited exempts probes and metrics scrapes.
func rateLimited(path string) bool {
	switch path {
	case "/health", "/healthz", "/metrics":
		return false
	}
	return true
}

func requestLogger(r *http.Request, fallback *slog.Logger) *slog.Logger {
	if logger := logging.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
