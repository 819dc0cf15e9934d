package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"clawgate/internal/types"
)

func TestListModels(t *testing.T) {
	api := newTestAPI(t, &fakeLauncher{})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	api.ListModels(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list types.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Data[0].ID != "claude-opus-4" || list.Data[1].ID != "claude-sonnet-4" {
		t.Fatalf("unexpected model ids %+v", list.Data)
	}
	if list.Data[0].OwnedBy != "anthropic" {
		t.Fatalf("unexpected owner %q", list.Data[0].OwnedBy)
	}
}

func TestListModelsDedups(t *testing.T) {
	api := newTestAPI(t, &fakeLauncher{})
	api.Models = []string{"opus", "claude-opus-4", "haiku"}
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	api.ListModels(rec, req)
	var list types.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Data) != 2 {
		t.Fatalf("expected deduped list, got %+v", list.Data)
	}
}
