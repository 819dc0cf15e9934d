package daemon

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"clawgate/internal/backend"
	"clawgate/internal/logging"
	"clawgate/internal/session"
)

// BackendProcess is the surface of a running backend invocation the
// handlers consume.
type BackendProcess interface {
	Events() <-chan backend.Event
	Kill()
}

// BackendLauncher spawns backend runs. Tests inject fakes.
type BackendLauncher interface {
	Launch(prompt string, opts backend.Options) (BackendProcess, error)
}

type execLauncher struct {
	command string
	logger  logging.Logger
}

func NewExecLauncher(command string, logger logging.Logger) BackendLauncher {
	return &execLauncher{command: command, logger: logger}
}

func (l *execLauncher) Launch(prompt string, opts backend.Options) (BackendProcess, error) {
	proc := backend.NewSubprocess(l.command, l.logger)
	if err := proc.Start(prompt, opts); err != nil {
		return nil, err
	}
	return proc, nil
}

// API holds the handler dependencies. Fields are wired by the daemon at
// startup and by tests directly.
type API struct {
	Version      string
	Logger       logging.Logger
	Registry     *RequestRegistry
	Router       *SubagentRouter
	Sessions     *session.Store
	Launcher     BackendLauncher
	Notifier     Notifier
	Models       []string
	DefaultModel string
	WorkspaceDir string
	SubagentDir  string
	IdleTimeout  time.Duration
	BackendEnv   []string
}

func (a *API) logger() logging.Logger {
	if a.Logger == nil {
		return logging.Nop()
	}
	return a.Logger
}

func (a *API) notifier() Notifier {
	if a.Notifier == nil {
		return NopNotifier{}
	}
	return a.Notifier
}

// finisher runs request teardown (deregister + lane release) exactly once
// no matter which exit path fires first.
type finisher struct {
	once sync.Once
	fn   func()
}

func (f *finisher) Run() {
	if f.fn != nil {
		f.once.Do(f.fn)
	}
}

// runParams carries the per-request state both completion handlers need.
type runParams struct {
	requestID      string
	model          string
	conversationID string
	toolMode       bool
	finish         *finisher
}

func isIdleTimeout(err error) bool {
	var idleErr *backend.IdleTimeoutError
	return errors.As(err, &idleErr)
}

func toolChoiceDisabled(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var choice string
	if err := json.Unmarshal(raw, &choice); err == nil {
		return choice == "none"
	}
	return false
}
