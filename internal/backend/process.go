package backend

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"clawgate/internal/logging"
)

const (
	defaultIdleTimeout = 10 * time.Minute
	killGrace          = 3 * time.Second
)

// ErrNotInstalled distinguishes a missing CLI binary from other spawn
// failures so callers can surface install advice.
var ErrNotInstalled = errors.New("backend command not found; install the agent CLI and make sure it is on PATH")

var resumeFailurePhrases = []string{
	"Failed to resume",
	"Session not found",
	"--resume requires",
	"Could not find session",
}

// Options controls a single backend invocation.
type Options struct {
	Model           string
	SessionID       string
	ResumeSessionID string
	SystemPrompt    string
	Cwd             string
	Env             []string
	IdleTimeout     time.Duration
}

// Subprocess runs one backend CLI invocation and exposes its output as a
// typed event stream. Consumers must drain Events until it closes; the
// channel closes right after the close event.
type Subprocess struct {
	command string
	logger  logging.Logger

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	proc     *os.Process
	idle     *time.Timer
	idleSpan time.Duration
	killed   bool
	timedOut bool
	exited   bool
}

func NewSubprocess(command string, logger logging.Logger) *Subprocess {
	if strings.TrimSpace(command) == "" {
		command = "claude"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Subprocess{
		command: command,
		logger:  logger,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
}

func (s *Subprocess) Events() <-chan Event {
	return s.events
}

func buildArgs(prompt string, opts Options) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, "--dangerously-skip-permissions")
	switch {
	case opts.ResumeSessionID != "":
		args = append(args, "--resume", opts.ResumeSessionID)
	case opts.SessionID != "":
		args = append(args, "--session-id", opts.SessionID)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	args = append(args, "--", prompt)
	return args
}

// Start spawns the backend process. The prompt travels as a discrete argv
// entry, never through a shell.
func (s *Subprocess) Start(prompt string, opts Options) error {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	cmd := exec.Command(s.command, buildArgs(prompt, opts)...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = append(os.Environ(), opts.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ErrNotInstalled
		}
		return fmt.Errorf("start backend: %w", err)
	}

	s.mu.Lock()
	s.proc = cmd.Process
	s.idleSpan = idle
	s.idle = time.AfterFunc(idle, s.expire)
	s.mu.Unlock()

	parser := NewParser()
	var readers sync.WaitGroup
	readers.Add(2)

	go func() {
		defer readers.Done()
		buf := make([]byte, 32*1024)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				s.touch()
				for _, ev := range parser.Feed(buf[:n]) {
					s.events <- ev
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		debug := s.logger.Enabled(logging.Debug)
		reported := false
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if debug {
				s.logger.Debug("backend stderr", logging.F("line", line))
			}
			if !reported && isResumeFailure(line) {
				reported = true
				s.events <- Event{Type: EventResumeFailed, Text: line}
			}
		}
	}()

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		for _, ev := range parser.Flush() {
			s.events <- ev
		}
		s.mu.Lock()
		if s.idle != nil {
			s.idle.Stop()
		}
		timedOut := s.timedOut
		idleSpan := s.idleSpan
		s.exited = true
		s.mu.Unlock()
		if timedOut {
			s.events <- Event{Type: EventError, Err: &IdleTimeoutError{Idle: idleSpan}}
		}
		s.events <- Event{Type: EventClose, ExitCode: exitCode(waitErr)}
		close(s.events)
		close(s.done)
	}()

	return nil
}

// Kill terminates the process. Safe to call multiple times and from any
// goroutine; later calls are no-ops.
func (s *Subprocess) Kill() {
	s.mu.Lock()
	if s.killed || s.exited || s.proc == nil {
		s.mu.Unlock()
		return
	}
	s.killed = true
	if s.idle != nil {
		s.idle.Stop()
	}
	proc := s.proc
	s.mu.Unlock()

	if err := signalTerminate(proc); err != nil {
		return
	}
	go func() {
		select {
		case <-s.done:
		case <-time.After(killGrace):
			_ = signalKill(proc)
		}
	}()
}

func (s *Subprocess) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.killed && !s.exited
}

// touch pushes the idle deadline out. Called for every stdout chunk.
func (s *Subprocess) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle != nil && !s.killed && !s.exited {
		s.idle.Reset(s.idleSpan)
	}
}

func (s *Subprocess) expire() {
	s.mu.Lock()
	if s.killed || s.exited {
		s.mu.Unlock()
		return
	}
	s.timedOut = true
	idleSpan := s.idleSpan
	s.mu.Unlock()
	s.logger.Warn("backend idle timeout, killing process", logging.F("idle", idleSpan))
	s.Kill()
}

func isResumeFailure(line string) bool {
	for _, phrase := range resumeFailurePhrases {
		if strings.Contains(line, phrase) {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
