package daemon

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const toolHistoryLimit = 20

// ActiveRequest is the registry's view of one in-flight backend run.
type ActiveRequest struct {
	ID             string
	StartedAt      time.Time
	Model          string
	LastTool       string
	ToolHistory    []string
	ConversationID string
	Subagent       bool
}

// RequestRegistry tracks in-flight requests for routing decisions and
// health reporting.
type RequestRegistry struct {
	mu       sync.Mutex
	requests map[string]*ActiveRequest
}

func NewRequestRegistry() *RequestRegistry {
	return &RequestRegistry{requests: map[string]*ActiveRequest{}}
}

func (r *RequestRegistry) Register(id, model, conversationID string, subagent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id] = &ActiveRequest{
		ID:             id,
		StartedAt:      time.Now(),
		Model:          model,
		ConversationID: conversationID,
		Subagent:       subagent,
	}
}

// Deregister removes a request. Safe to call more than once.
func (r *RequestRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
}

// TrackTool records a tool invocation against a request. Consecutive
// repeats collapse, and history stays bounded.
func (r *RequestRegistry) TrackTool(id, tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return
	}
	request.LastTool = tool
	n := len(request.ToolHistory)
	if n > 0 && request.ToolHistory[n-1] == tool {
		return
	}
	request.ToolHistory = append(request.ToolHistory, tool)
	if len(request.ToolHistory) > toolHistoryLimit {
		request.ToolHistory = request.ToolHistory[len(request.ToolHistory)-toolHistoryLimit:]
	}
}

func (r *RequestRegistry) Get(id string) (ActiveRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return ActiveRequest{}, false
	}
	return cloneRequest(request), true
}

func (r *RequestRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Snapshot returns all active requests, oldest first.
func (r *RequestRegistry) Snapshot() []ActiveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveRequest, 0, len(r.requests))
	for _, request := range r.requests {
		out = append(out, cloneRequest(request))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// BusyPrimary reports a non-subagent request on the given conversation
// that has been running for at least threshold.
func (r *RequestRegistry) BusyPrimary(conversationID string, threshold time.Duration) (ActiveRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, request := range r.requests {
		if request.Subagent || request.ConversationID != conversationID {
			continue
		}
		if now.Sub(request.StartedAt) >= threshold {
			return cloneRequest(request), true
		}
	}
	return ActiveRequest{}, false
}

// ActiveSubagent reports an in-flight request on the subagent conversation.
func (r *RequestRegistry) ActiveSubagent(subConversationID string) (ActiveRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, request := range r.requests {
		if request.Subagent && request.ConversationID == subConversationID {
			return cloneRequest(request), true
		}
	}
	return ActiveRequest{}, false
}

func cloneRequest(request *ActiveRequest) ActiveRequest {
	clone := *request
	clone.ToolHistory = append([]string(nil), request.ToolHistory...)
	return clone
}

// formatElapsed renders a duration the way health consumers expect.
func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
