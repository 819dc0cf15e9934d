package daemon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clawgate/internal/logging"
)

const subagentSuffix = "::subagent"

// SubagentSession tracks the takeover lane derived from one primary
// conversation.
type SubagentSession struct {
	ConversationID string
	CreatedAt      time.Time
	LastUsedAt     time.Time
	RequestCount   int
	Active         bool
	InheritedTools []string
}

// fifoMutex is a mutex whose waiters acquire in arrival order. Acquire
// honors context cancellation while queued.
type fifoMutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

func (m *fifoMutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	m.waiters = append(m.waiters, ticket)
	m.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, waiter := range m.waiters {
			if waiter == ticket {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// The ticket was already handed the lock; pass it on.
		m.release()
		return ctx.Err()
	}
}

func (m *fifoMutex) release() {
	m.mu.Lock()
	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		close(next)
		return
	}
	m.locked = false
	m.mu.Unlock()
}

// RouteResult is the routing decision for one request. Release must be
// called when the request finishes; extra calls are no-ops.
type RouteResult struct {
	ConversationID string
	Subagent       bool
	PrimaryElapsed time.Duration
	InheritedTools []string

	once    *sync.Once
	release func()
}

func (r *RouteResult) Release() {
	if r.once == nil || r.release == nil {
		return
	}
	r.once.Do(r.release)
}

// SubagentRouter decides whether an incoming request rides the primary
// conversation or is diverted onto its subagent lane. A request diverts
// when the primary already has a backend run older than the busy
// threshold; diverted requests on the same lane serialize through a FIFO
// mutex so the backend sees them in arrival order.
type SubagentRouter struct {
	registry  *RequestRegistry
	notifier  Notifier
	logger    logging.Logger
	threshold time.Duration

	mu       sync.Mutex
	sessions map[string]*SubagentSession
	locks    map[string]*fifoMutex
}

func NewSubagentRouter(registry *RequestRegistry, notifier Notifier, logger logging.Logger, threshold time.Duration) *SubagentRouter {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if threshold <= 0 {
		threshold = 30 * time.Second
	}
	return &SubagentRouter{
		registry:  registry,
		notifier:  notifier,
		logger:    logger,
		threshold: threshold,
		sessions:  map[string]*SubagentSession{},
		locks:     map[string]*fifoMutex{},
	}
}

// Route classifies the request. Blocks while an earlier request holds the
// same subagent lane; ctx cancellation abandons the wait.
func (r *SubagentRouter) Route(ctx context.Context, conversationID string) (*RouteResult, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return &RouteResult{}, nil
	}

	busy, isBusy := r.registry.BusyPrimary(conversationID, r.threshold)
	if !isBusy {
		r.deactivate(conversationID)
		return &RouteResult{ConversationID: conversationID}, nil
	}

	subConversationID := conversationID + subagentSuffix
	elapsed := time.Since(busy.StartedAt)

	r.mu.Lock()
	session, exists := r.sessions[conversationID]
	if !exists {
		now := time.Now()
		session = &SubagentSession{
			ConversationID: subConversationID,
			CreatedAt:      now,
			LastUsedAt:     now,
		}
		r.sessions[conversationID] = session
	}
	wasActive := session.Active
	session.Active = true
	session.InheritedTools = append([]string(nil), busy.ToolHistory...)
	lock, ok := r.locks[subConversationID]
	if !ok {
		lock = &fifoMutex{}
		r.locks[subConversationID] = lock
	}
	r.mu.Unlock()

	if _, subBusy := r.registry.ActiveSubagent(subConversationID); subBusy {
		r.notifier.Notify(fmt.Sprintf(
			"Both agents busy: primary working for %s, subagent also mid-request. Queuing.",
			formatElapsed(elapsed)))
	} else if !wasActive {
		r.notifier.Notify(fmt.Sprintf(
			"Primary agent busy for %s; routing this request to the subagent.",
			formatElapsed(elapsed)))
	}

	r.logger.Info("routing request to subagent",
		logging.F("conversation_id", conversationID),
		logging.F("primary_elapsed", formatElapsed(elapsed)))

	if err := lock.Acquire(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	session.RequestCount++
	session.LastUsedAt = time.Now()
	r.mu.Unlock()

	return &RouteResult{
		ConversationID: subConversationID,
		Subagent:       true,
		PrimaryElapsed: elapsed,
		InheritedTools: append([]string(nil), busy.ToolHistory...),
		once:           &sync.Once{},
		release:        lock.release,
	}, nil
}

// deactivate marks the lane dormant once the primary is free again. The
// session record survives so its backend history can be resumed later.
func (r *SubagentRouter) deactivate(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[conversationID]; ok {
		session.Active = false
	}
}

// Sessions returns all subagent lanes, most recently used first.
func (r *SubagentRouter) Sessions() []SubagentSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubagentSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		clone := *session
		clone.InheritedTools = append([]string(nil), session.InheritedTools...)
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out
}

// SubagentPreamble is prepended to the system prompt of diverted requests
// so the backend knows it is covering for a busy primary.
func SubagentPreamble(result *RouteResult) string {
	var b strings.Builder
	b.WriteString("You are a secondary agent answering on behalf of the primary agent, ")
	b.WriteString("which is still working on an earlier request")
	if result.PrimaryElapsed > 0 {
		fmt.Fprintf(&b, " (busy for %s)", formatElapsed(result.PrimaryElapsed))
	}
	b.WriteString(". Answer the user directly.")
	if len(result.InheritedTools) > 0 {
		fmt.Fprintf(&b, " The primary agent has recently used these tools: %s.",
			strings.Join(result.InheritedTools, ", "))
	}
	return b.String()
}
