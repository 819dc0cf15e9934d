package daemon

import (
	"context"
	"strings"
	"sync"
	"time"

	"clawgate/internal/logging"
)

const (
	progressUpdateInterval = 3 * time.Second
	progressHistoryLimit   = 6
)

type progressState int

const (
	progressUnsent progressState = iota
	progressSent
	progressDeleted
)

// ProgressReporter maintains one updatable status message per request,
// listing the tools the backend has been using. Edits are throttled to one
// per interval; reports landing inside the window schedule a deferred
// flush. Cleanup deletes the message and cancels any pending flush.
type ProgressReporter struct {
	notifier Notifier
	logger   logging.Logger
	timeout  time.Duration

	mu         sync.Mutex
	state      progressState
	messageID  string
	tools      []string
	lastUpdate time.Time
	pending    *time.Timer
}

func NewProgressReporter(notifier Notifier, logger logging.Logger) *ProgressReporter {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ProgressReporter{notifier: notifier, logger: logger, timeout: 15 * time.Second}
}

// Report records a tool invocation. Consecutive repeats collapse.
func (p *ProgressReporter) Report(tool string) {
	p.mu.Lock()
	if p.state == progressDeleted {
		p.mu.Unlock()
		return
	}
	if n := len(p.tools); n > 0 && p.tools[n-1] == tool {
		p.mu.Unlock()
		return
	}
	p.tools = append(p.tools, tool)
	if len(p.tools) > progressHistoryLimit {
		p.tools = p.tools[len(p.tools)-progressHistoryLimit:]
	}
	sinceLast := time.Since(p.lastUpdate)
	if sinceLast >= progressUpdateInterval {
		p.lastUpdate = time.Now()
		p.mu.Unlock()
		go p.flush()
		return
	}
	if p.pending == nil {
		delay := progressUpdateInterval - sinceLast
		p.pending = time.AfterFunc(delay, func() {
			p.mu.Lock()
			p.pending = nil
			if p.state == progressDeleted {
				p.mu.Unlock()
				return
			}
			p.lastUpdate = time.Now()
			p.mu.Unlock()
			p.flush()
		})
	}
	p.mu.Unlock()
}

// Cleanup tears the status message down. Further reports are ignored.
func (p *ProgressReporter) Cleanup() {
	p.mu.Lock()
	if p.state == progressDeleted {
		p.mu.Unlock()
		return
	}
	if p.pending != nil {
		p.pending.Stop()
		p.pending = nil
	}
	state := p.state
	messageID := p.messageID
	p.state = progressDeleted
	p.mu.Unlock()

	if state != progressSent || messageID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.notifier.Delete(ctx, messageID); err != nil {
			p.logger.Warn("failed to delete progress message", logging.F("error", err))
		}
	}()
}

func (p *ProgressReporter) flush() {
	p.mu.Lock()
	if p.state == progressDeleted {
		p.mu.Unlock()
		return
	}
	text := progressText(p.tools)
	state := p.state
	messageID := p.messageID
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if state == progressUnsent {
		id, err := p.notifier.Send(ctx, text)
		if err != nil {
			p.logger.Warn("failed to send progress message", logging.F("error", err))
			return
		}
		p.mu.Lock()
		if p.state == progressUnsent {
			p.state = progressSent
			p.messageID = id
			p.mu.Unlock()
			return
		}
		raced := p.state == progressDeleted
		p.mu.Unlock()
		// Cleanup ran while the send was in flight; reap the orphan.
		if raced {
			_ = p.notifier.Delete(ctx, id)
		}
		return
	}

	if err := p.notifier.Edit(ctx, messageID, text); err != nil {
		p.logger.Warn("failed to edit progress message", logging.F("error", err))
	}
}

func progressText(tools []string) string {
	if len(tools) == 0 {
		return "Working..."
	}
	return "Working: " + strings.Join(tools, " -> ")
}
