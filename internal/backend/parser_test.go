package backend

import (
	"testing"
)

func TestParserClassifiesContentDelta(t *testing.T) {
	p := NewParser()
	line := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}}` + "\n"
	events := p.Feed([]byte(line))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventContentDelta || events[0].Text != "Hello" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestParserHoldsPartialLineAcrossFeeds(t *testing.T) {
	p := NewParser()
	full := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"split"}}}` + "\n"
	half := len(full) / 2
	if events := p.Feed([]byte(full[:half])); len(events) != 0 {
		t.Fatalf("expected no events from partial chunk, got %d", len(events))
	}
	events := p.Feed([]byte(full[half:]))
	if len(events) != 1 || events[0].Text != "split" {
		t.Fatalf("expected reassembled delta, got %+v", events)
	}
}

func TestParserMultipleLinesOneChunk(t *testing.T) {
	p := NewParser()
	chunk := `{"type":"assistant","message":{"role":"assistant","model":"claude-opus-4"}}` + "\n" +
		`{"type":"result","result":"done","usage":{"input_tokens":10,"output_tokens":5}}` + "\n"
	events := p.Feed([]byte(chunk))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventAssistant || events[0].Model != "claude-opus-4" {
		t.Fatalf("unexpected assistant event %+v", events[0])
	}
	if events[1].Type != EventResult || events[1].Text != "done" {
		t.Fatalf("unexpected result event %+v", events[1])
	}
	if events[1].Usage == nil || events[1].Usage.InputTokens != 10 || events[1].Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage %+v", events[1].Usage)
	}
}

func TestParserEmitsRawForInvalidJSON(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("not json at all\n"))
	if len(events) != 1 || events[0].Type != EventRaw {
		t.Fatalf("expected raw event, got %+v", events)
	}
	if events[0].Text != "not json at all" {
		t.Fatalf("unexpected raw text %q", events[0].Text)
	}
}

func TestParserSkipsUnclassifiedJSON(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte(`{"type":"system","subtype":"init"}` + "\n"))
	if len(events) != 0 {
		t.Fatalf("expected no events for init line, got %+v", events)
	}
}

func TestParserToolUse(t *testing.T) {
	p := NewParser()
	line := `{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","name":"Bash"}}}` + "\n"
	events := p.Feed([]byte(line))
	if len(events) != 1 || events[0].Type != EventToolUse || events[0].ToolName != "Bash" {
		t.Fatalf("expected tool_use event, got %+v", events)
	}
}

func TestParserFlushDecodesTrailingLine(t *testing.T) {
	p := NewParser()
	if events := p.Feed([]byte(`{"type":"result","result":"tail"}`)); len(events) != 0 {
		t.Fatalf("expected held partial, got %+v", events)
	}
	events := p.Flush()
	if len(events) != 1 || events[0].Type != EventResult || events[0].Text != "tail" {
		t.Fatalf("expected flushed result, got %+v", events)
	}
	if again := p.Flush(); len(again) != 0 {
		t.Fatalf("expected empty second flush, got %+v", again)
	}
}

func TestParserModelUsage(t *testing.T) {
	p := NewParser()
	line := `{"type":"result","result":"ok","modelUsage":{"claude-opus-4":{"input_tokens":3,"output_tokens":7}}}` + "\n"
	events := p.Feed([]byte(line))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	usage, ok := events[0].ModelUsage["claude-opus-4"]
	if !ok || usage.OutputTokens != 7 {
		t.Fatalf("unexpected model usage %+v", events[0].ModelUsage)
	}
}
