package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"clawgate/internal/types"
)

func TestHealthIdle(t *testing.T) {
	api := newTestAPI(t, &fakeLauncher{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.Health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report types.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != "ok" || report.Backend.State != "idle" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Backend.ActiveRequests != 0 {
		t.Fatalf("expected no active requests, got %d", report.Backend.ActiveRequests)
	}
}

func TestHealthBusyListsRequests(t *testing.T) {
	api := newTestAPI(t, &fakeLauncher{})
	api.Registry.Register("req-1", "opus", "conv-1", false)
	api.Registry.TrackTool("req-1", "Bash")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.Health(rec, req)
	var report types.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Backend.State != "busy" || len(report.Backend.Requests) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	entry := report.Backend.Requests[0]
	if entry.ID != "req-1" || entry.LastTool != "Bash" || entry.ConversationID != "conv-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestHealthRejectsNonGet(t *testing.T) {
	api := newTestAPI(t, &fakeLauncher{})
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	api.Health(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
