package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"clawgate/internal/adapter"
	"clawgate/internal/backend"
	"clawgate/internal/logging"
	"clawgate/internal/types"
)

// ChatCompletions handles POST /v1/chat/completions for both streaming and
// non-streaming requests.
func (a *API) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, types.ErrorEnvelope{Error: types.ErrorBody{
			Message: "method not allowed",
			Type:    "invalid_request_error",
		}})
		return
	}

	var req types.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, invalidError("request body must be valid JSON", "invalid_json"))
		return
	}
	if len(req.Messages) == 0 {
		writeServiceError(w, invalidError("messages must not be empty", "invalid_messages"))
		return
	}

	requestID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	logger := a.logger().With(logging.F("request_id", requestID))

	route, err := a.Router.Route(r.Context(), req.User)
	if err != nil {
		logger.Info("client abandoned request while queued for subagent lane")
		return
	}
	defer route.Release()

	if strings.TrimSpace(req.Model) == "" {
		req.Model = a.DefaultModel
	}

	conversationID := route.ConversationID
	resuming := false
	opts := backend.Options{
		Cwd:         a.WorkspaceDir,
		Env:         a.BackendEnv,
		IdleTimeout: a.IdleTimeout,
	}
	if route.Subagent {
		opts.Cwd = a.SubagentDir
	}
	if conversationID != "" && a.Sessions != nil {
		if existing, ok := a.Sessions.Get(conversationID); ok {
			resuming = true
			opts.ResumeSessionID = existing.BackendSessionID
			a.Sessions.Touch(conversationID)
		} else {
			created, _ := a.Sessions.GetOrCreate(conversationID, adapter.ExtractModel(req.Model))
			opts.SessionID = created.BackendSessionID
		}
	}

	input := adapter.BuildCLIInput(&req, resuming)
	if strings.TrimSpace(input.Prompt) == "" {
		writeServiceError(w, invalidError("messages contain no usable text", "empty_prompt"))
		return
	}
	opts.Model = input.Model
	opts.SystemPrompt = input.SystemPrompt
	if route.Subagent {
		preamble := SubagentPreamble(route)
		if opts.SystemPrompt != "" {
			opts.SystemPrompt = preamble + "\n\n" + opts.SystemPrompt
		} else {
			opts.SystemPrompt = preamble
		}
	}

	a.Registry.Register(requestID, input.Model, conversationID, route.Subagent)
	finish := &finisher{fn: func() {
		a.Registry.Deregister(requestID)
		route.Release()
	}}
	defer finish.Run()

	logger.Info("starting backend run",
		logging.F("model", input.Model),
		logging.F("conversation_id", conversationID),
		logging.F("resuming", resuming),
		logging.F("subagent", route.Subagent),
		logging.F("stream", req.Stream))

	proc, err := a.Launcher.Launch(input.Prompt, opts)
	if err != nil {
		logger.Error("failed to start backend", logging.F("error", err))
		if errors.Is(err, backend.ErrNotInstalled) {
			writeServiceError(w, unavailableError(backend.ErrNotInstalled.Error(), nil))
		} else {
			writeServiceError(w, unavailableError("failed to start backend process", err))
		}
		return
	}

	params := runParams{
		requestID:      requestID,
		model:          adapter.NormalizeModelName(input.Model),
		conversationID: conversationID,
		toolMode:       len(req.Tools) > 0 && !toolChoiceDisabled(req.ToolChoice),
		finish:         finish,
	}
	if req.Stream {
		a.streamCompletion(w, r, proc, params, logger)
	} else {
		a.collectCompletion(w, r, proc, params, logger)
	}
}

// collectCompletion drains the run to its terminal result and answers with
// a single completion object.
func (a *API) collectCompletion(w http.ResponseWriter, r *http.Request, proc BackendProcess, p runParams, logger logging.Logger) {
	done := r.Context().Done()
	var result *backend.Event
	var closeCode int
	responded := false
	sawClose := false

	for {
		select {
		case <-done:
			done = nil
			logger.Info("client disconnected, killing backend")
			proc.Kill()
		case ev, ok := <-proc.Events():
			if !ok {
				p.finish.Run()
				if responded {
					return
				}
				if result != nil {
					writeJSON(w, http.StatusOK, adapter.ResultToResponse(
						p.requestID, result.Text, p.model, result.Usage, result.ModelUsage, logger))
					return
				}
				code := closeCode
				if !sawClose {
					code = -1
				}
				writeServiceError(w, unavailableError(
					fmt.Sprintf("backend exited with code %d without producing a result", code), nil))
				return
			}
			switch ev.Type {
			case backend.EventToolUse:
				a.Registry.TrackTool(p.requestID, ev.ToolName)
			case backend.EventResult:
				evCopy := ev
				result = &evCopy
			case backend.EventResumeFailed:
				a.dropSessionMapping(p.conversationID, logger)
			case backend.EventError:
				p.finish.Run()
				if responded {
					break
				}
				responded = true
				if isIdleTimeout(ev.Err) {
					a.notifier().Notify("Request aborted: " + ev.Err.Error())
					writeServiceError(w, timeoutError(ev.Err.Error(), nil))
				} else {
					writeServiceError(w, unavailableError("backend run failed", ev.Err))
				}
			case backend.EventRaw:
				logger.Debug("unparsed backend output", logging.F("line", ev.Text))
			case backend.EventClose:
				sawClose = true
				closeCode = ev.ExitCode
			}
		}
	}
}

func (a *API) dropSessionMapping(conversationID string, logger logging.Logger) {
	if conversationID == "" || a.Sessions == nil {
		return
	}
	if _, ok := a.Sessions.Get(conversationID); !ok {
		return
	}
	logger.Warn("backend rejected resumed session, dropping mapping",
		logging.F("conversation_id", conversationID))
	a.Sessions.Delete(conversationID)
}
