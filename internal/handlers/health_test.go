package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthzReportsUptimeAndBuildInfo(t *testing.T) {
	started := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	current := started
	handlers := NewHealthHandlers(
		WithHealthClock(func() time.Time { return current }),
		WithHealthBuildInfo("v1.4.2", "prod"),
	)
	current = started.Add(90 * time.Second)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
	if payload["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", payload["uptime"])
	}
	if payload["version"] != "v1.4.2" || payload["environment"] != "prod" {
		t.Fatalf("unexpected build info %v", payload)
	}
}

func TestReadyzAllProbesHealthy(t *testing.T) {
	handlers := NewHealthHandlers(
		WithReadinessCheck("firestore", func(context.Context) error { return nil }),
		WithReadinessCheck("pubsub", func(context.Context) error { return nil }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %s", payload.Status)
	}
	if payload.Checks["firestore"] != "ok" || payload.Checks["pubsub"] != "ok" {
		t.Fatalf("unexpected checks %v", payload.Checks)
	}
}

func TestReadyzFailingProbe(t *testing.T) {
	handlers := NewHealthHandlers(
		WithReadinessCheck("firestore", func(context.Context) error { return nil }),
		WithReadinessCheck("pubsub", func(context.Context) error { return errors.New("topic missing") }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.Status != "unavailable" {
		t.Fatalf("expected unavailable, got %s", payload.Status)
	}
	if payload.Checks["firestore"] != "ok" {
		t.Fatalf("healthy probe must still report ok, got %q", payload.Checks["firestore"])
	}
	if payload.Checks["pubsub"] != "topic missing" {
		t.Fatalf("expected probe error message, got %q", payload.Checks["pubsub"])
	}
}

func TestReadyzWithoutProbes(t *testing.T) {
	handlers := NewHealthHandlers()

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
