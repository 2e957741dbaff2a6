// Package server hosts the RPC surface, health probes, and metrics from a
// single HTTP server.
//
// Every route shares one middleware chain: request ids, request logging,
// metrics, security headers, CORS, and rate limiting, applied in that order
// from the outside in. Rejections raised by middleware use the same JSON
// error shape as the RPC transport so clients handle a single format.
package server
