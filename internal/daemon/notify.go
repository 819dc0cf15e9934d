package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"clawgate/internal/logging"
)

// Notifier delivers operator-facing status messages. Notify is one-shot and
// fire-and-forget; Send/Edit/Delete manage an updatable message and are
// used by the progress reporter.
type Notifier interface {
	Notify(text string)
	Send(ctx context.Context, text string) (string, error)
	Edit(ctx context.Context, messageID, text string) error
	Delete(ctx context.Context, messageID string) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

func (NopNotifier) Send(context.Context, string) (string, error) { return "", nil }

func (NopNotifier) Edit(context.Context, string, string) error { return nil }

func (NopNotifier) Delete(context.Context, string) error { return nil }

// notifyScriptRunner executes the configured notify command with a JSON
// action on stdin and returns trimmed stdout.
type notifyScriptRunner interface {
	Run(ctx context.Context, command string, payload []byte) (string, error)
}

type shellScriptRunner struct{}

func (shellScriptRunner) Run(ctx context.Context, command string, payload []byte) (string, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, "sh", "-lc", command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("notify script failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

type notifyAction struct {
	Action    string `json:"action"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ScriptNotifier shells out to a configured command for message delivery.
// The command receives one JSON action per invocation on stdin and, for
// send, prints the message id on stdout.
type ScriptNotifier struct {
	command string
	timeout time.Duration
	runner  notifyScriptRunner
	logger  logging.Logger
}

func NewScriptNotifier(command string, timeout time.Duration, logger logging.Logger) *ScriptNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ScriptNotifier{
		command: command,
		timeout: timeout,
		runner:  shellScriptRunner{},
		logger:  logger,
	}
}

func (n *ScriptNotifier) Notify(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if _, err := n.run(ctx, notifyAction{Action: "send", Text: text}); err != nil {
			n.logger.Warn("notification failed", logging.F("error", err))
		}
	}()
}

func (n *ScriptNotifier) Send(ctx context.Context, text string) (string, error) {
	return n.run(ctx, notifyAction{Action: "send", Text: text})
}

func (n *ScriptNotifier) Edit(ctx context.Context, messageID, text string) error {
	_, err := n.run(ctx, notifyAction{Action: "edit", MessageID: messageID, Text: text})
	return err
}

func (n *ScriptNotifier) Delete(ctx context.Context, messageID string) error {
	_, err := n.run(ctx, notifyAction{Action: "delete", MessageID: messageID})
	return err
}

func (n *ScriptNotifier) run(ctx context.Context, action notifyAction) (string, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return "", err
	}
	return n.runner.Run(ctx, n.command, payload)
}
