package backend

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Parser turns raw stdout chunks from the backend process into typed events.
// Chunks may split a line anywhere; a trailing partial line is held until the
// next Feed or a final Flush.
type Parser struct {
	partial []byte
}

func NewParser() *Parser {
	return &Parser{}
}

type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Event   *struct {
		Type  string `json:"type"`
		Delta *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		ContentBlock *struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"content_block"`
	} `json:"event"`
	Message *struct {
		Role  string `json:"role"`
		Model string `json:"model"`
	} `json:"message"`
	Result     string           `json:"result"`
	Usage      *Usage           `json:"usage"`
	ModelUsage map[string]Usage `json:"modelUsage"`
}

// Feed ingests one stdout chunk and returns the events for every complete
// line it contained.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	data := append(p.partial, chunk...)
	var events []Event
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
	}
	p.partial = data
	return events
}

// Flush decodes a trailing line that never received its newline. Call once,
// after the process has exited.
func (p *Parser) Flush() []Event {
	if len(bytes.TrimSpace(p.partial)) == 0 {
		p.partial = nil
		return nil
	}
	line := p.partial
	p.partial = nil
	if ev, ok := parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

func parseLine(line []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Event{}, false
	}
	var decoded streamLine
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return Event{Type: EventRaw, Text: string(trimmed)}, true
	}
	switch decoded.Type {
	case "stream_event":
		if decoded.Event == nil {
			return Event{}, false
		}
		switch decoded.Event.Type {
		case "content_block_delta":
			if decoded.Event.Delta != nil && decoded.Event.Delta.Text != "" {
				return Event{Type: EventContentDelta, Text: decoded.Event.Delta.Text}, true
			}
		case "content_block_start":
			block := decoded.Event.ContentBlock
			if block != nil && block.Type == "tool_use" {
				return Event{Type: EventToolUse, ToolName: toolLabel(block.Name)}, true
			}
		}
		return Event{}, false
	case "assistant":
		if decoded.Message != nil && decoded.Message.Role == "assistant" {
			return Event{Type: EventAssistant, Model: decoded.Message.Model}, true
		}
		return Event{}, false
	case "result":
		return Event{
			Type:       EventResult,
			Text:       decoded.Result,
			Usage:      decoded.Usage,
			ModelUsage: decoded.ModelUsage,
		}, true
	default:
		// Init lines and other bookkeeping decode fine but carry nothing
		// the gateway acts on.
		return Event{}, false
	}
}

func toolLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "tool"
	}
	return name
}
