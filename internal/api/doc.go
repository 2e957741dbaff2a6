// Package api declares the procedures served under /rpc and binds them to the
// session and user services.
//
// NewRouter is the single assembly point. Every dependency arrives through
// Deps; the package does not reach for globals and expects callers to supply
// fully configured services. Transport concerns (envelopes, rate limiting,
// request logging) belong to internal/rpc and internal/server.
//
// The health handlers report the availability of injected components so the
// server can expose liveness and readiness without knowing which backends are
// configured.
package api
