package api

import (
	"context"
	"net/http"
	"time"
)

const defaultHealthTimeout = 2 * time.Second

// HealthCheck probes one injected component.
type HealthCheck struct {
	Component string
	Ping      func(ctx context.Context) error
}

// HealthHandler serves liveness and component readiness.
type HealthHandler struct {
	Checks  []HealthCheck
	Timeout time.Duration
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Live always reports ok while the process serves requests.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Report pings every component and answers 503 when any is degraded.
func (h *HealthHandler) Report(w http.ResponseWriter, r *http.Request) {
	components, status, code := h.componentHealth(r.Context())
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

func (h *HealthHandler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	overallStatus := "ok"
	statusCode := http.StatusOK
	components := make([]componentStatus, 0, len(h.Checks))
	for _, check := range h.Checks {
		if check.Ping == nil {
			continue
		}
		entry := componentStatus{Component: check.Component, Status: "ok"}
		if err := check.Ping(ctx); err != nil {
			entry.Status = "degraded"
			entry.Error = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		components = append(components, entry)
	}
	return components, overallStatus, statusCode
}
