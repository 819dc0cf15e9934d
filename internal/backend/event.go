package backend

import (
	"fmt"
	"time"
)

type EventType string

const (
	// EventContentDelta carries one increment of assistant text.
	EventContentDelta EventType = "content_delta"
	// EventAssistant reports the model name the backend is answering with.
	EventAssistant EventType = "assistant"
	// EventToolUse reports the start of a tool invocation.
	EventToolUse EventType = "tool_use"
	// EventResult is the terminal summary. At most one per run.
	EventResult EventType = "result"
	// EventRaw carries a stdout line that could not be decoded as JSON.
	EventRaw EventType = "raw"
	// EventError reports a run-level failure such as an idle timeout.
	EventError EventType = "error"
	// EventResumeFailed signals that the backend rejected a resumed session.
	EventResumeFailed EventType = "resume_failed"
	// EventClose is emitted exactly once, after the process has exited and
	// all other events have been delivered. The channel closes after it.
	EventClose EventType = "close"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Event struct {
	Type       EventType
	Text       string
	Model      string
	ToolName   string
	Usage      *Usage
	ModelUsage map[string]Usage
	Err        error
	ExitCode   int
}

// IdleTimeoutError marks a run killed for producing no output within the
// configured window.
type IdleTimeoutError struct {
	Idle time.Duration
}

func (e *IdleTimeoutError) Error() string {
	return fmt.Sprintf("backend produced no output for %s", e.Idle)
}
