package logging

import (
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf strings.Builder
	logger := New(&buf, Warn)
	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected filtered output, got %q", out)
	}
	if !strings.Contains(out, "level=warn") || !strings.Contains(out, "msg=kept") {
		t.Fatalf("expected warn line, got %q", out)
	}
}

func TestLoggerWithBindsFields(t *testing.T) {
	var buf strings.Builder
	logger := New(&buf, Info).With(F("request_id", "abc123"))
	logger.Info("started", F("model", "sonnet"))
	out := buf.String()
	if !strings.Contains(out, "request_id=abc123") {
		t.Fatalf("expected bound field, got %q", out)
	}
	if !strings.Contains(out, "model=sonnet") {
		t.Fatalf("expected call field, got %q", out)
	}
}

func TestLoggerQuotesValuesWithSpaces(t *testing.T) {
	var buf strings.Builder
	logger := New(&buf, Info)
	logger.Info("note", F("detail", "two words"))
	if !strings.Contains(buf.String(), `detail="two words"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := ParseLevel("bogus"); got != Info {
		t.Fatalf("expected Info, got %v", got)
	}
	if got := ParseLevel("DEBUG"); got != Debug {
		t.Fatalf("expected Debug, got %v", got)
	}
}

func TestLoggerEnabledTracksLevel(t *testing.T) {
	var buf strings.Builder
	logger := New(&buf, Warn)
	if logger.Enabled(Debug) || logger.Enabled(Info) {
		t.Fatalf("expected debug and info disabled at warn level")
	}
	if !logger.Enabled(Warn) || !logger.Enabled(Error) {
		t.Fatalf("expected warn and error enabled at warn level")
	}
}
