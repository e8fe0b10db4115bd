package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadinessProbe reports whether a dependency is reachable.
type ReadinessProbe func(ctx context.Context) error

type readinessCheck struct {
	name  string
	probe ReadinessProbe
}

// HealthHandlers serves the /healthz and /readyz monitoring endpoints.
type HealthHandlers struct {
	clock       func() time.Time
	startedAt   time.Time
	version     string
	environment string
	checks      []readinessCheck
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the time source, mainly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthBuildInfo attaches version metadata to health payloads.
func WithHealthBuildInfo(version, environment string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
		h.environment = environment
	}
}

// WithReadinessCheck registers a named dependency probe run by /readyz.
func WithReadinessCheck(name string, probe ReadinessProbe) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && probe != nil {
			h.checks = append(h.checks, readinessCheck{name: name, probe: probe})
		}
	}
}

// NewHealthHandlers constructs health handlers with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock()
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	if h.environment != "" {
		payload["environment"] = h.environment
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz runs every registered dependency probe and reports aggregate readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.probe(ctx); err != nil {
			checks[check.name] = err.Error()
			ready = false
			continue
		}
		checks[check.name] = "ok"
	}

	status := http.StatusOK
	payload := map[string]any{
		"status": "ok",
	}
	if !ready {
		status = http.StatusServiceUnavailable
		payload["status"] = "unavailable"
	}
	if len(checks) > 0 {
		payload["checks"] = checks
	}
	writeJSONResponse(w, status, payload)
}
