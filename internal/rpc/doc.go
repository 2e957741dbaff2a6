// Package rpc hosts the procedure pipeline: typed contracts, the per-call
// Context, interceptors, the Router, and the HTTP transport.
//
// A call flows through the interceptors fixed when the Router is built.
// MapAppErrors runs outermost so that errors raised by RequireSession and by
// handlers alike are translated into wire errors in a single place.
// RequireSession only guards procedures whose contract is marked Protected.
//
// The HTTP transport accepts POST {prefix}/{group}/{method} with a body of
// the form {"json": <input>} and answers {"json": <output>} on success or
// {"json": {"defined", "code", "status", "message", "data"}} on failure.
package rpc
