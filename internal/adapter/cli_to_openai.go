package adapter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"clawgate/internal/backend"
	"clawgate/internal/logging"
	"clawgate/internal/types"
)

var toolCallPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseToolCalls extracts <tool_call> markers from result text. It returns
// the decoded calls and the surrounding text with every marker removed.
// Markers whose payload does not decode are logged and dropped.
func ParseToolCalls(text string, logger logging.Logger) ([]types.ToolCall, string) {
	if logger == nil {
		logger = logging.Nop()
	}
	matches := toolCallPattern.FindAllStringSubmatch(text, -1)
	var calls []types.ToolCall
	for i, match := range matches {
		payload := strings.TrimSpace(match[1])
		var raw rawToolCall
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			logger.Warn("dropping malformed tool call", logging.F("payload", payload))
			continue
		}
		id := raw.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		name := raw.Name
		if name == "" {
			name = "unknown"
		}
		calls = append(calls, types.ToolCall{
			ID:   id,
			Type: "function",
			Function: types.ToolCallFunction{
				Name:      name,
				Arguments: normalizeArguments(raw.Arguments),
			},
		})
	}
	remainder := strings.TrimSpace(toolCallPattern.ReplaceAllString(text, ""))
	return calls, remainder
}

// normalizeArguments always yields a JSON-encoded string value, which is
// what OpenAI clients expect in function.arguments.
func normalizeArguments(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "{}"
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return trimmed
}

// NewChunk builds a single streaming chunk for the given request.
func NewChunk(requestID, model string, delta types.ChunkDelta, finishReason *string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      requestID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

// FinishChunk builds the terminal chunk with an empty delta.
func FinishChunk(requestID, model, reason string) types.ChatCompletionChunk {
	return NewChunk(requestID, model, types.ChunkDelta{}, &reason)
}

// ToolCallChunks synthesizes the streamed representation of a tool-call
// turn: one chunk announcing every call with empty arguments, then one
// chunk per call carrying its arguments, then the tool_calls finish.
func ToolCallChunks(requestID, model string, calls []types.ToolCall) []types.ChatCompletionChunk {
	chunks := make([]types.ChatCompletionChunk, 0, len(calls)+2)

	announced := make([]types.ToolCall, len(calls))
	for i, call := range calls {
		idx := i
		announced[i] = types.ToolCall{
			Index: &idx,
			ID:    call.ID,
			Type:  call.Type,
			Function: types.ToolCallFunction{
				Name:      call.Function.Name,
				Arguments: "",
			},
		}
	}
	chunks = append(chunks, NewChunk(requestID, model, types.ChunkDelta{
		Role:      "assistant",
		ToolCalls: announced,
	}, nil))

	for i, call := range calls {
		idx := i
		chunks = append(chunks, NewChunk(requestID, model, types.ChunkDelta{
			ToolCalls: []types.ToolCall{{
				Index:    &idx,
				Function: types.ToolCallFunction{Arguments: call.Function.Arguments},
			}},
		}, nil))
	}

	chunks = append(chunks, FinishChunk(requestID, model, "tool_calls"))
	return chunks
}

// ResultToResponse assembles the non-streaming completion object from the
// backend's terminal result. A tool-call turn carries null content; any text
// around the markers is discarded.
func ResultToResponse(requestID, resultText, model string, usage *backend.Usage, modelUsage map[string]backend.Usage, logger logging.Logger) types.ChatCompletionResponse {
	text := StripBleed(resultText)
	calls, _ := ParseToolCalls(text, logger)

	message := &types.ResponseMessage{Role: "assistant"}
	finishReason := "stop"
	if len(calls) > 0 {
		message.ToolCalls = calls
		finishReason = "tool_calls"
	} else {
		message.Content = &text
	}

	return types.ChatCompletionResponse{
		ID:      requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   responseModel(model, modelUsage),
		Choices: []types.Choice{{Index: 0, Message: message, FinishReason: finishReason}},
		Usage:   convertUsage(usage),
	}
}

// responseModel prefers the model the backend actually billed against.
func responseModel(fallback string, modelUsage map[string]backend.Usage) string {
	if len(modelUsage) > 0 {
		keys := make([]string, 0, len(modelUsage))
		for key := range modelUsage {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return NormalizeModelName(keys[0])
	}
	return NormalizeModelName(fallback)
}

func convertUsage(usage *backend.Usage) *types.Usage {
	if usage == nil {
		return nil
	}
	return &types.Usage{
		PromptTokens:     usage.InputTokens,
		CompletionTokens: usage.OutputTokens,
		TotalTokens:      usage.InputTokens + usage.OutputTokens,
	}
}
