package daemon

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) Send(_ context.Context, text string) (string, error) {
	n.Notify(text)
	return "msg-1", nil
}

func (n *recordingNotifier) Edit(_ context.Context, _ string, text string) error {
	n.Notify(text)
	return nil
}

func (n *recordingNotifier) Delete(context.Context, string) error { return nil }

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func TestRouteWithoutConversationID(t *testing.T) {
	router := NewSubagentRouter(NewRequestRegistry(), nil, nil, time.Millisecond)
	result, err := router.Route(context.Background(), "")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Subagent || result.ConversationID != "" {
		t.Fatalf("unexpected result %+v", result)
	}
	result.Release()
}

func TestRouteIdlePrimaryStaysOnPrimary(t *testing.T) {
	router := NewSubagentRouter(NewRequestRegistry(), nil, nil, time.Millisecond)
	result, err := router.Route(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Subagent || result.ConversationID != "conv-1" {
		t.Fatalf("expected primary route, got %+v", result)
	}
}

func TestRouteBusyPrimaryDivertsToSubagent(t *testing.T) {
	registry := NewRequestRegistry()
	notifier := &recordingNotifier{}
	router := NewSubagentRouter(registry, notifier, nil, 5*time.Millisecond)

	registry.Register("req-main", "opus", "conv-1", false)
	registry.TrackTool("req-main", "Bash")
	time.Sleep(10 * time.Millisecond)

	result, err := router.Route(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	defer result.Release()
	if !result.Subagent {
		t.Fatalf("expected subagent route")
	}
	if result.ConversationID != "conv-1"+subagentSuffix {
		t.Fatalf("unexpected lane id %q", result.ConversationID)
	}
	if len(result.InheritedTools) != 1 || result.InheritedTools[0] != "Bash" {
		t.Fatalf("expected inherited tools, got %v", result.InheritedTools)
	}
	messages := notifier.all()
	if len(messages) != 1 || !strings.Contains(messages[0], "busy") {
		t.Fatalf("expected activation notification, got %v", messages)
	}

	sessions := router.Sessions()
	if len(sessions) != 1 || !sessions[0].Active || sessions[0].RequestCount != 1 {
		t.Fatalf("unexpected session state %+v", sessions)
	}
}

func TestRouteDeactivatesWhenPrimaryFree(t *testing.T) {
	registry := NewRequestRegistry()
	router := NewSubagentRouter(registry, nil, nil, 5*time.Millisecond)

	registry.Register("req-main", "opus", "conv-1", false)
	time.Sleep(10 * time.Millisecond)
	result, err := router.Route(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	result.Release()
	registry.Deregister("req-main")

	again, err := router.Route(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if again.Subagent {
		t.Fatalf("expected primary route once free")
	}
	sessions := router.Sessions()
	if len(sessions) != 1 || sessions[0].Active {
		t.Fatalf("expected dormant session, got %+v", sessions)
	}
}

func TestRouteReleaseIsExactlyOnce(t *testing.T) {
	registry := NewRequestRegistry()
	router := NewSubagentRouter(registry, nil, nil, time.Millisecond)
	registry.Register("req-main", "opus", "conv-1", false)
	time.Sleep(5 * time.Millisecond)

	first, err := router.Route(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	first.Release()
	first.Release()

	// The lane must be acquirable exactly once after the double release.
	second, err := router.Route(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := router.Route(ctx, "conv-1"); err == nil {
		t.Fatalf("expected third route to block until release")
	}
	second.Release()
}

func TestFifoMutexOrdering(t *testing.T) {
	m := &fifoMutex{}
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			if err := m.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			m.release()
		}()
		time.Sleep(10 * time.Millisecond)
	}

	m.release()
	wg.Wait()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order, got %v", order)
	}
}

func TestFifoMutexAcquireCancelled(t *testing.T) {
	m := &fifoMutex{}
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
	// The cancelled waiter must not leave the queue wedged.
	m.release()
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after cancel: %v", err)
	}
}

func TestSubagentPreamble(t *testing.T) {
	result := &RouteResult{
		PrimaryElapsed: 65 * time.Second,
		InheritedTools: []string{"Read", "Bash"},
	}
	preamble := SubagentPreamble(result)
	if !strings.Contains(preamble, "1m 5s") {
		t.Fatalf("expected elapsed in preamble, got %q", preamble)
	}
	if !strings.Contains(preamble, "Read, Bash") {
		t.Fatalf("expected tools in preamble, got %q", preamble)
	}
}
