package daemon

import (
	"net/http"
	"time"

	"clawgate/internal/types"
)

// Health reports gateway liveness plus the active request and subagent
// tables. The endpoint is unauthenticated so probes can reach it.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	active := a.Registry.Snapshot()
	state := "idle"
	if len(active) > 0 {
		state = "busy"
	}
	requests := make([]types.ActiveRequestReport, 0, len(active))
	now := time.Now()
	for _, request := range active {
		requests = append(requests, types.ActiveRequestReport{
			ID:             request.ID,
			Model:          request.Model,
			Elapsed:        formatElapsed(now.Sub(request.StartedAt)),
			LastTool:       request.LastTool,
			ToolHistory:    request.ToolHistory,
			ConversationID: request.ConversationID,
			Subagent:       request.Subagent,
		})
	}

	var subagents []types.SubagentState
	if a.Router != nil {
		for _, session := range a.Router.Sessions() {
			subagents = append(subagents, types.SubagentState{
				ConversationID: session.ConversationID,
				CreatedAt:      session.CreatedAt.UTC().Format(time.RFC3339),
				LastUsedAt:     session.LastUsedAt.UTC().Format(time.RFC3339),
				RequestCount:   session.RequestCount,
				Active:         session.Active,
			})
		}
	}

	writeJSON(w, http.StatusOK, types.HealthReport{
		Status:    "ok",
		Timestamp: now.UTC().Format(time.RFC3339),
		Backend: types.BackendHealth{
			State:          state,
			ActiveRequests: len(active),
			Requests:       requests,
		},
		Subagents: subagents,
	})
}
