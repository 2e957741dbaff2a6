package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// ProcedureLabel identifies an RPC procedure outcome.
type ProcedureLabel struct {
	Path string
	Code string
}

// JobLabel identifies a queue job outcome.
type JobLabel struct {
	Queue  string
	Status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, RPC
// procedure outcomes, queue jobs, and rate limiter rejections. Writers are
// coordinated through a RWMutex; the active job gauge is atomic.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	procedureCount    map[ProcedureLabel]uint64
	procedureDuration map[ProcedureLabel]time.Duration
	jobEvents         map[JobLabel]uint64
	rateLimited       map[string]uint64
	activeJobs        atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		procedureCount:    make(map[ProcedureLabel]uint64),
		procedureDuration: make(map[ProcedureLabel]time.Duration),
		jobEvents:         make(map[JobLabel]uint64),
		rateLimited:       make(map[string]uint64),
	}
}

// Default returns the process-wide Recorder used when no recorder is injected.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveProcedure records one RPC call. code is "OK" for successful calls
// and the wire error code otherwise.
func (r *Recorder) ObserveProcedure(path, code string, duration time.Duration) {
	if r == nil {
		return
	}
	label := ProcedureLabel{Path: strings.TrimSpace(path), Code: strings.ToUpper(strings.TrimSpace(code))}
	if label.Path == "" {
		label.Path = "unknown"
	}
	if label.Code == "" {
		label.Code = "OK"
	}
	r.mu.Lock()
	r.procedureCount[label]++
	r.procedureDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records a job picked up by a worker and raises the active gauge.
func (r *Recorder) JobStarted(queue string) {
	if r == nil {
		return
	}
	r.recordJobEvent(queue, "started")
	r.activeJobs.Add(1)
}

// JobCompleted records a successful job and lowers the active gauge.
func (r *Recorder) JobCompleted(queue string) {
	if r == nil {
		return
	}
	r.recordJobEvent(queue, "completed")
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a failed attempt. exhausted marks the final attempt.
func (r *Recorder) JobFailed(queue string, exhausted bool) {
	if r == nil {
		return
	}
	status := "retried"
	if exhausted {
		status = "failed"
	}
	r.recordJobEvent(queue, status)
	r.decrementGauge(&r.activeJobs)
}

// JobPublished records a job accepted by the queue backend.
func (r *Recorder) JobPublished(queue string) {
	if r == nil {
		return
	}
	r.recordJobEvent(queue, "published")
}

// JobReclaimed records stale deliveries taken over by reconcile.
func (r *Recorder) JobReclaimed(queue string, count int) {
	if r == nil || count <= 0 {
		return
	}
	label := JobLabel{Queue: normalizeName(queue), Status: "reclaimed"}
	r.mu.Lock()
	r.jobEvents[label] += uint64(count)
	r.mu.Unlock()
}

func (r *Recorder) recordJobEvent(queue, status string) {
	label := JobLabel{Queue: normalizeName(queue), Status: normalizeName(status)}
	r.mu.Lock()
	r.jobEvents[label]++
	r.mu.Unlock()
}

// ObserveRateLimited counts a rejected request by limiter scope ("global" or "ip").
func (r *Recorder) ObserveRateLimited(scope string) {
	if r == nil {
		return
	}
	normalized := normalizeName(scope)
	r.mu.Lock()
	r.rateLimited[normalized]++
	r.mu.Unlock()
}

// ActiveJobs exposes the number of jobs currently being processed.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// ProcedureCounts returns a copy of the procedure outcome counters.
func (r *Recorder) ProcedureCounts() map[ProcedureLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[ProcedureLabel]uint64, len(r.procedureCount))
	for k, v := range r.procedureCount {
		counts[k] = v
	}
	return counts
}

// JobCounts returns a copy of the queue job counters and the active gauge.
func (r *Recorder) JobCounts() (events map[JobLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[JobLabel]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeJobs.Load()
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.procedureCount = make(map[ProcedureLabel]uint64)
	r.procedureDuration = make(map[ProcedureLabel]time.Duration)
	r.jobEvents = make(map[JobLabel]uint64)
	r.rateLimited = make(map[string]uint64)
	r.activeJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with label sets sorted
// for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	procedureLabels := r.sortedProcedureLabels()
	jobLabels := r.sortedJobLabels()
	scopes := r.sortedRateLimitScopes()

	fmt.Fprintln(w, "# HELP app_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE app_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "app_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP app_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE app_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "app_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP app_rpc_calls_total RPC procedure calls by path and outcome code")
	fmt.Fprintln(w, "# TYPE app_rpc_calls_total counter")
	for _, label := range procedureLabels {
		fmt.Fprintf(w, "app_rpc_calls_total{path=\"%s\",code=\"%s\"} %d\n", label.Path, label.Code, r.procedureCount[label])
	}

	fmt.Fprintln(w, "# HELP app_rpc_call_duration_seconds_sum Cumulative duration of RPC procedure calls in seconds")
	fmt.Fprintln(w, "# TYPE app_rpc_call_duration_seconds_sum counter")
	for _, label := range procedureLabels {
		fmt.Fprintf(w, "app_rpc_call_duration_seconds_sum{path=\"%s\",code=\"%s\"} %f\n", label.Path, label.Code, r.procedureDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP app_queue_jobs_total Queue job events by queue and status")
	fmt.Fprintln(w, "# TYPE app_queue_jobs_total counter")
	for _, label := range jobLabels {
		fmt.Fprintf(w, "app_queue_jobs_total{queue=\"%s\",status=\"%s\"} %d\n", label.Queue, label.Status, r.jobEvents[label])
	}

	fmt.Fprintln(w, "# HELP app_queue_active_jobs Current number of jobs being processed")
	fmt.Fprintln(w, "# TYPE app_queue_active_jobs gauge")
	fmt.Fprintf(w, "app_queue_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP app_rate_limited_total Requests rejected by the rate limiter")
	fmt.Fprintln(w, "# TYPE app_rate_limited_total counter")
	for _, scope := range scopes {
		fmt.Fprintf(w, "app_rate_limited_total{scope=\"%s\"} %d\n", scope, r.rateLimited[scope])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedProcedureLabels() []ProcedureLabel {
	labels := make([]ProcedureLabel, 0, len(r.procedureCount))
	for label := range r.procedureCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Path != labels[j].Path {
			return labels[i].Path < labels[j].Path
		}
		return labels[i].Code < labels[j].Code
	})
	return labels
}

func (r *Recorder) sortedJobLabels() []JobLabel {
	labels := make([]JobLabel, 0, len(r.jobEvents))
	for label := range r.jobEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Queue != labels[j].Queue {
			return labels[i].Queue < labels[j].Queue
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedRateLimitScopes() []string {
	scopes := make([]string, 0, len(r.rateLimited))
	for scope := range r.rateLimited {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier matches UUIDs and segments carrying three or more
// digits. Procedure names such as createSession stay intact.
func looksLikeIdentifier(segment string) bool {
	if _, err := uuid.Parse(segment); err == nil {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
