package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestMonitorHealth(t *testing.T) {
	m := NewMonitor(nil)
	m.now = func() time.Time { return time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) }

	if !m.IsHealthy() || m.GetStatusSummary() != "No runs yet" {
		t.Error("a fresh monitor should be healthy with no runs")
	}

	m.RecordSuccess("6 schedules warmed", time.Second)
	if !m.IsHealthy() {
		t.Error("should be healthy after success")
	}
	if got := m.GetStatusSummary(); got != "Last run: Mar 4 10:30 (6 schedules warmed)" {
		t.Errorf("summary = %q", got)
	}

	m.RecordPartialFailure(errors.New("one pair failed"), time.Second)
	if !m.IsHealthy() {
		t.Error("partial failures must not change health")
	}

	m.RecordCriticalFailure(errors.New("catalog unavailable"), time.Second)
	if m.IsHealthy() {
		t.Error("should be unhealthy after a critical failure")
	}

	if s, f := m.Counts(); s != 1 || f != 2 {
		t.Errorf("Counts() = %d, %d; want 1, 2", s, f)
	}
}

func TestHealthRoutes(t *testing.T) {
	m := NewMonitor(nil)
	h := NewHealthServer(m, "", nil)
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}

	m.RecordCriticalFailure(errors.New("boom"), time.Millisecond)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(rec.Body.String(), "failed runs: 1") {
		t.Errorf("/status body = %q", rec.Body.String())
	}
}
