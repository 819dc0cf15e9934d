package types

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Backend   BackendHealth   `json:"backend"`
	Subagents []SubagentState `json:"subagents,omitempty"`
}

type BackendHealth struct {
	State          string                `json:"state"`
	ActiveRequests int                   `json:"active_requests"`
	Requests       []ActiveRequestReport `json:"requests,omitempty"`
}

type ActiveRequestReport struct {
	ID             string   `json:"id"`
	Model          string   `json:"model"`
	Elapsed        string   `json:"elapsed"`
	LastTool       string   `json:"last_tool,omitempty"`
	ToolHistory    []string `json:"tool_history,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Subagent       bool     `json:"subagent"`
}

type SubagentState struct {
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
	LastUsedAt     string `json:"last_used_at"`
	RequestCount   int    `json:"request_count"`
	Active         bool   `json:"active"`
}
