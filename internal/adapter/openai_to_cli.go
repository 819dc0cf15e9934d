package adapter

import (
	"encoding/json"
	"strings"

	"clawgate/internal/types"
)

// modelAliases maps full API model names onto the short aliases the CLI
// accepts. Anything else starting with "claude-" passes through untouched.
var modelAliases = map[string]string{
	"claude-opus-4":   "opus",
	"claude-sonnet-4": "sonnet",
	"claude-haiku-4":  "haiku",
}

const fallbackModel = "opus"

// CLIInput is everything the gateway derives from an API request before
// spawning the backend.
type CLIInput struct {
	Prompt       string
	Model        string
	SystemPrompt string
}

// BuildCLIInput translates an OpenAI-style request into backend input. When
// resuming, the backend already holds the history, so only the latest user
// message travels and the system prompt is omitted; without a user message
// the full framed prompt travels instead.
func BuildCLIInput(req *types.ChatCompletionRequest, resuming bool) CLIInput {
	input := CLIInput{Model: ExtractModel(req.Model)}
	if resuming {
		input.Prompt = LatestUserMessage(req.Messages)
		if input.Prompt == "" {
			input.Prompt = MessagesToPrompt(req.Messages)
		}
		return input
	}
	input.SystemPrompt = ExtractSystemPrompt(req.Messages)
	input.Prompt = MessagesToPrompt(req.Messages)
	return input
}

// ExtractModel maps a client-facing model name onto a CLI model argument.
func ExtractModel(model string) string {
	model = strings.TrimSpace(model)
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	lower := strings.ToLower(model)
	switch lower {
	case "opus", "sonnet", "haiku":
		return lower
	}
	if alias, ok := modelAliases[lower]; ok {
		return alias
	}
	if strings.HasPrefix(lower, "claude-") {
		return model
	}
	return fallbackModel
}

// NormalizeModelName maps a CLI model argument back onto the client-facing
// name advertised in responses.
func NormalizeModelName(model string) string {
	model = strings.TrimSpace(model)
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		return "claude-opus-4"
	case strings.Contains(lower, "sonnet"):
		return "claude-sonnet-4"
	case strings.Contains(lower, "haiku"):
		return "claude-haiku-4"
	case model != "":
		return model
	default:
		return "claude-opus-4"
	}
}

// MessagesToPrompt renders the conversation as a single framed prompt. Tool
// messages and assistant turns that only carried tool calls are skipped;
// the backend never sees the tool protocol.
func MessagesToPrompt(messages []types.ChatMessage) string {
	var parts []string
	for _, msg := range messages {
		switch msg.Role {
		case "system", "tool":
			continue
		case "assistant":
			text := ContentText(msg.Content)
			if text == "" {
				continue
			}
			parts = append(parts, "[Assistant]\n"+text)
		case "user":
			text := ContentText(msg.Content)
			if text == "" {
				continue
			}
			parts = append(parts, "[User]\n"+text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// LatestUserMessage returns the text of the most recent user message.
func LatestUserMessage(messages []types.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return ContentText(messages[i].Content)
		}
	}
	return ""
}

// ExtractSystemPrompt concatenates all system messages in order.
func ExtractSystemPrompt(messages []types.ChatMessage) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role != "system" {
			continue
		}
		if text := ContentText(msg.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentText extracts plain text from a message content value, which may
// be a JSON string or an array of typed parts.
func ContentText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		return asString
	}
	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, part := range parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}
