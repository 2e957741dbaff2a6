package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{name: "root", path: "/", want: "/"},
		{name: "empty", path: "", want: "/"},
		{name: "numeric id", path: "/users/123", want: "/users/:id"},
		{name: "uuid", path: "/sessions/5f0c8a9e-5b0e-4c1b-9a57-0d0c9f1e2a11/", want: "/sessions/:id"},
		{name: "procedure name kept", path: "/rpc/session/createSession", want: "/rpc/session/createSession"},
		{name: "missing leading slash", path: "health", want: "/health"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.path); got != tc.want {
				t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestObserveProcedure(t *testing.T) {
	recorder := New()
	recorder.ObserveProcedure("hello.greet", "", 10*time.Millisecond)
	recorder.ObserveProcedure("hello.greet", "rate_limited", 5*time.Millisecond)
	recorder.ObserveProcedure("hello.greet", "RATE_LIMITED", 5*time.Millisecond)

	counts := recorder.ProcedureCounts()
	if got := counts[ProcedureLabel{Path: "hello.greet", Code: "OK"}]; got != 1 {
		t.Fatalf("expected 1 OK call, got %d", got)
	}
	if got := counts[ProcedureLabel{Path: "hello.greet", Code: "RATE_LIMITED"}]; got != 2 {
		t.Fatalf("expected 2 rate limited calls, got %d", got)
	}
}

func TestJobGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	completions := 150

	wg.Add(starts + completions)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.JobStarted("sum")
		}()
	}
	for i := 0; i < completions; i++ {
		go func() {
			defer wg.Done()
			recorder.JobCompleted("sum")
		}()
	}
	wg.Wait()

	events, active := recorder.JobCounts()
	if active != 0 {
		t.Fatalf("active jobs should not go negative; got %d", active)
	}
	if got := events[JobLabel{Queue: "sum", Status: "started"}]; got != uint64(starts) {
		t.Fatalf("unexpected started events: got %d want %d", got, starts)
	}
	if got := events[JobLabel{Queue: "sum", Status: "completed"}]; got != uint64(completions) {
		t.Fatalf("unexpected completed events: got %d want %d", got, completions)
	}
}

func TestJobFailedStatuses(t *testing.T) {
	recorder := New()
	recorder.JobStarted("sum")
	recorder.JobFailed("sum", false)
	recorder.JobStarted("sum")
	recorder.JobFailed("sum", true)
	recorder.JobReclaimed("sum", 3)
	recorder.JobReclaimed("sum", 0)

	events, active := recorder.JobCounts()
	if active != 0 {
		t.Fatalf("expected no active jobs, got %d", active)
	}
	if events[JobLabel{Queue: "sum", Status: "retried"}] != 1 {
		t.Fatalf("expected one retried event, got %v", events)
	}
	if events[JobLabel{Queue: "sum", Status: "failed"}] != 1 {
		t.Fatalf("expected one failed event, got %v", events)
	}
	if events[JobLabel{Queue: "sum", Status: "reclaimed"}] != 3 {
		t.Fatalf("expected three reclaimed jobs, got %v", events)
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("post", "/rpc/hello/greet", 200, 150*time.Millisecond)
	recorder.ObserveRequest("POST", "/rpc/hello/greet", 200, 50*time.Millisecond)
	recorder.ObserveProcedure("users.getById", "NOT_FOUND", time.Second)
	recorder.JobPublished("sum")
	recorder.ObserveRateLimited("IP")

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	expected := []string{
		`app_http_requests_total{method="POST",path="/rpc/hello/greet",status="200"} 2`,
		`app_http_request_duration_seconds_sum{method="POST",path="/rpc/hello/greet",status="200"} 0.200000`,
		`app_rpc_calls_total{path="users.getById",code="NOT_FOUND"} 1`,
		`app_rpc_call_duration_seconds_sum{path="users.getById",code="NOT_FOUND"} 1.000000`,
		`app_queue_jobs_total{queue="sum",status="published"} 1`,
		`app_queue_active_jobs 0`,
		`app_rate_limited_total{scope="ip"} 1`,
	}
	for _, line := range expected {
		if !strings.Contains(body, line) {
			t.Fatalf("expected output to contain %q, got:\n%s", line, body)
		}
	}

	rr := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Body.String() != body {
		t.Fatalf("handler output differs from Write output")
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/health", 200, time.Millisecond)
	recorder.JobStarted("sum")
	recorder.Reset()

	events, active := recorder.JobCounts()
	if len(events) != 0 || active != 0 {
		t.Fatalf("expected empty job counters after reset, got %v active=%d", events, active)
	}
	var buf bytes.Buffer
	recorder.Write(&buf)
	if strings.Contains(buf.String(), "/health") {
		t.Fatalf("expected request counters cleared, got:\n%s", buf.String())
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var recorder *Recorder
	recorder.ObserveProcedure("hello.greet", "OK", time.Millisecond)
	recorder.JobStarted("sum")
	recorder.ObserveRateLimited("global")
}
