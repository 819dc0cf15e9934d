package daemon

import (
	"net/http"
	"time"

	"clawgate/internal/adapter"
	"clawgate/internal/types"
)

// ListModels serves GET /v1/models from the configured model list,
// advertised under their client-facing names.
func (a *API) ListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	created := time.Now().Unix()
	seen := map[string]struct{}{}
	data := make([]types.Model, 0, len(a.Models))
	for _, model := range a.Models {
		id := adapter.NormalizeModelName(model)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		data = append(data, types.Model{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: "anthropic",
		})
	}

	writeJSON(w, http.StatusOK, types.ModelList{Object: "list", Data: data})
}
