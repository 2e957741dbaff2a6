package metrics

import (
	"net/http"
	"time"
)

// StatusWriter remembers the status code and body size of a response.
// Optional writer interfaces are reached through Unwrap with
// http.ResponseController.
type StatusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// WrapWriter returns w itself when it already is a StatusWriter so stacked
// middleware share one view of the response.
func WrapWriter(w http.ResponseWriter) *StatusWriter {
	if sw, ok := w.(*StatusWriter); ok {
		return sw
	}
	return &StatusWriter{ResponseWriter: w}
}

// Status is the final status code, 200 when the handler never set one.
func (w *StatusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// BytesWritten counts body bytes passed to the underlying writer.
func (w *StatusWriter) BytesWritten() int64 {
	return w.bytes
}

func (w *StatusWriter) WriteHeader(code int) {
	// 1xx responses precede the final status.
	if w.status == 0 && code >= http.StatusOK {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *StatusWriter) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RouteFunc names the route a request is counted under. Returning false
// leaves the request out of the request metrics.
type RouteFunc func(r *http.Request) (string, bool)

// URLPath counts every request under its URL path. Identifier-looking
// segments are collapsed by the Recorder.
func URLPath(r *http.Request) (string, bool) {
	return r.URL.Path, true
}

// Middleware records one request observation per response. A nil recorder
// uses Default and a nil route uses URLPath.
func Middleware(recorder *Recorder, route RouteFunc) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = Default()
	}
	if route == nil {
		route = URLPath
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			label, ok := route(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			sw := WrapWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)
			recorder.ObserveRequest(r.Method, label, sw.Status(), time.Since(start))
		})
	}
}
