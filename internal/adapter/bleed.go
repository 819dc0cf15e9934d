package adapter

import (
	"strings"
	"unicode/utf8"
)

// Conversation-turn sentinels. When the backend starts hallucinating the
// other side of the dialogue, everything from the first sentinel onward is
// dropped.
var bleedSentinels = []string{"\n[User]", "\n[Human]", "\nHuman:"}

var longestSentinel = func() int {
	max := 0
	for _, s := range bleedSentinels {
		if len(s) > max {
			max = len(s)
		}
	}
	return max
}()

// StripBleed truncates text at the first sentinel occurrence. Idempotent.
func StripBleed(text string) string {
	cut := -1
	for _, sentinel := range bleedSentinels {
		if idx := strings.Index(text, sentinel); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return text
	}
	return text[:cut]
}

// BleedFilter applies sentinel suppression to an incremental text stream.
// It holds back the last longest-sentinel-minus-one bytes so a sentinel
// split across deltas can never leak, and goes silent once one is seen.
type BleedFilter struct {
	acc     strings.Builder
	flushed int
	bled    bool
}

// Feed ingests one delta and returns the text that is now safe to forward.
func (f *BleedFilter) Feed(delta string) string {
	if f.bled || delta == "" {
		return ""
	}
	f.acc.WriteString(delta)
	text := f.acc.String()
	safe := StripBleed(text)
	if len(safe) < len(text) {
		f.bled = true
		if f.flushed >= len(safe) {
			return ""
		}
		out := safe[f.flushed:]
		f.flushed = len(safe)
		return out
	}
	cut := len(text) - (longestSentinel - 1)
	for cut > f.flushed && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut <= f.flushed {
		return ""
	}
	out := text[f.flushed:cut]
	f.flushed = cut
	return out
}

// Finish releases the held-back tail after the stream ends, re-checking it
// for sentinels one last time.
func (f *BleedFilter) Finish() string {
	if f.bled {
		return ""
	}
	safe := StripBleed(f.acc.String())
	if f.flushed >= len(safe) {
		return ""
	}
	out := safe[f.flushed:]
	f.flushed = len(safe)
	return out
}

// Bled reports whether a sentinel was seen.
func (f *BleedFilter) Bled() bool {
	return f.bled
}
