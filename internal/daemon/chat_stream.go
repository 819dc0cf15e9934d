package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"clawgate/internal/adapter"
	"clawgate/internal/backend"
	"clawgate/internal/logging"
	"clawgate/internal/types"
)

// streamCompletion relays the run over SSE as OpenAI chunk objects.
func (a *API) streamCompletion(w http.ResponseWriter, r *http.Request, proc BackendProcess, p runParams, logger logging.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		proc.Kill()
		go func() {
			for range proc.Events() {
			}
		}()
		p.finish.Run()
		writeServiceError(w, unavailableError("streaming is not supported on this connection", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-Id", p.requestID)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ":\n\n")
	flusher.Flush()

	writeData := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	writeDone := func() {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	model := p.model
	filter := &adapter.BleedFilter{}
	var toolBuffer strings.Builder
	progress := NewProgressReporter(a.Notifier, logger)
	defer progress.Cleanup()

	roleSent := false
	sendContent := func(text string) {
		if text == "" {
			return
		}
		delta := types.ChunkDelta{Content: text}
		if !roleSent {
			delta.Role = "assistant"
			roleSent = true
		}
		writeData(adapter.NewChunk(p.requestID, model, delta, nil))
	}

	done := r.Context().Done()
	disconnected := false
	ended := false
	completed := false

	for {
		select {
		case <-done:
			done = nil
			disconnected = true
			if !completed {
				logger.Info("client disconnected, killing backend")
			}
			proc.Kill()
		case ev, ok := <-proc.Events():
			if !ok {
				p.finish.Run()
				return
			}
			switch ev.Type {
			case backend.EventAssistant:
				if ev.Model != "" {
					model = adapter.NormalizeModelName(ev.Model)
				}
			case backend.EventToolUse:
				a.Registry.TrackTool(p.requestID, ev.ToolName)
				progress.Report(ev.ToolName)
			case backend.EventContentDelta:
				if ended || disconnected {
					break
				}
				if p.toolMode {
					toolBuffer.WriteString(ev.Text)
				} else {
					sendContent(filter.Feed(ev.Text))
				}
			case backend.EventResult:
				completed = true
				p.finish.Run()
				progress.Cleanup()
				if ended || disconnected {
					break
				}
				ended = true
				if p.toolMode {
					resultText := toolBuffer.String()
					if strings.TrimSpace(resultText) == "" {
						resultText = ev.Text
					}
					a.streamToolResult(writeData, sendContent, p, model, resultText, logger)
				} else {
					sendContent(filter.Finish())
					writeData(adapter.FinishChunk(p.requestID, model, "stop"))
				}
				writeDone()
			case backend.EventResumeFailed:
				a.dropSessionMapping(p.conversationID, logger)
			case backend.EventError:
				p.finish.Run()
				progress.Cleanup()
				if isIdleTimeout(ev.Err) {
					a.notifier().Notify("Request aborted: " + ev.Err.Error())
				}
				if ended || disconnected {
					break
				}
				ended = true
				message := "backend run failed"
				errType := "server_error"
				if ev.Err != nil {
					message = ev.Err.Error()
				}
				if isIdleTimeout(ev.Err) {
					errType = "timeout_error"
				}
				writeSSEError(w, flusher, message, errType)
				writeDone()
			case backend.EventRaw:
				logger.Debug("unparsed backend output", logging.F("line", ev.Text))
			case backend.EventClose:
				p.finish.Run()
				if ended || disconnected || completed {
					break
				}
				ended = true
				writeSSEError(w, flusher,
					fmt.Sprintf("backend exited with code %d before completing", ev.ExitCode),
					"server_error")
				writeDone()
			}
		}
	}
}

// streamToolResult renders the buffered tool-mode turn: tool-call chunks
// when markers are present, a single content chunk otherwise.
func (a *API) streamToolResult(writeData func(any), sendContent func(string), p runParams, model, resultText string, logger logging.Logger) {
	text := adapter.StripBleed(resultText)
	calls, _ := adapter.ParseToolCalls(text, logger)
	if len(calls) > 0 {
		for _, chunk := range adapter.ToolCallChunks(p.requestID, model, calls) {
			writeData(chunk)
		}
		return
	}
	sendContent(text)
	writeData(adapter.FinishChunk(p.requestID, model, "stop"))
}

func writeSSEError(w io.Writer, flusher http.Flusher, message, errType string) {
	payload, err := json.Marshal(types.ErrorEnvelope{Error: types.ErrorBody{
		Message: message,
		Type:    errType,
	}})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
