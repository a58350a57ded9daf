package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/neuromance/neuromance/internal/core"
)

// responsesEvent is the union of streamed /responses event payloads. The
// event type arrives both on the SSE `event:` line and inside the data
// object; the data copy is authoritative.
type responsesEvent struct {
	Type        string             `json:"type"`
	Response    *responsesResponse `json:"response,omitempty"`
	OutputIndex int                `json:"output_index"`
	Item        *responsesItem     `json:"item,omitempty"`
	Delta       string             `json:"delta,omitempty"`
	Text        string             `json:"text,omitempty"`
	Arguments   string             `json:"arguments,omitempty"`
	Error       *responsesError    `json:"error,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// ChatStream performs one streaming /responses call, translating the SSE
// event sequence into neutral chunks. Function-call arguments keep two
// paths: the `arguments` field of the done event wins; accumulated deltas
// are the fallback when done never arrives.
func (c *ResponsesClient) ChatStream(ctx context.Context, req core.ChatRequest) (<-chan core.ChatChunk, <-chan error) {
	chunkCh := make(chan core.ChatChunk, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		if err := ValidateRequest(c, req); err != nil {
			errCh <- err
			return
		}

		wire := c.buildRequest(req)
		wire.Stream = true

		body, err := json.Marshal(wire)
		if err != nil {
			errCh <- core.Wrap(core.CodeSerialization, err, "encoding responses request")
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
		if err != nil {
			errCh <- core.Wrap(core.CodeInternal, err, "building responses request")
			return
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errCh <- classifyError("responses", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errCh <- c.statusError(resp)
			return
		}

		emit := func(chunk core.ChatChunk) bool {
			select {
			case chunkCh <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		accum := newCallAccumulator(c.logger)

		scanner := bufio.NewScanner(resp.Body)
		// Large argument payloads can exceed the default 64KB line limit.
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				break
			}

			var event responsesEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				c.logger.Warn("skipping malformed stream event", "error", err)
				continue
			}

			if done := c.handleStreamEvent(event, accum, emit, errCh); done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- classifyError("responses", err)
		}
	}()

	return chunkCh, errCh
}

// handleStreamEvent dispatches one decoded event. It reports true when
// the stream is finished (terminal event or emit failure).
func (c *ResponsesClient) handleStreamEvent(event responsesEvent, accum *callAccumulator, emit func(core.ChatChunk) bool, errCh chan<- error) bool {
	switch {
	case event.Type == "response.created" || event.Type == "response.in_progress":
		if event.Response != nil {
			return !emit(core.ChatChunk{
				ID:    event.Response.ID,
				Model: event.Response.Model,
				Role:  core.RoleAssistant,
			})
		}

	case event.Type == "response.output_item.added":
		if event.Item != nil && event.Item.Type == "function_call" {
			accum.Start(event.OutputIndex, event.Item.CallID, event.Item.Name)
			if event.Item.Arguments != "" {
				accum.SetArgs(event.OutputIndex, event.Item.Arguments)
			}
		}

	case strings.HasSuffix(event.Type, "output_text.delta"):
		if event.Delta != "" {
			return !emit(core.ChatChunk{Role: core.RoleAssistant, DeltaContent: event.Delta})
		}

	case strings.HasSuffix(event.Type, "reasoning_summary_text.delta"):
		if event.Delta != "" {
			return !emit(core.ChatChunk{Role: core.RoleAssistant, DeltaReasoning: event.Delta})
		}

	case strings.HasSuffix(event.Type, "function_call_arguments.delta"):
		accum.AppendArgs(event.OutputIndex, event.Delta)

	case strings.HasSuffix(event.Type, "function_call_arguments.done"):
		if event.Arguments != "" {
			accum.SetArgs(event.OutputIndex, event.Arguments)
		}
		if call, ok := accum.Finish(event.OutputIndex); ok {
			return !emit(core.ChatChunk{Role: core.RoleAssistant, DeltaToolCalls: []core.ToolCall{call}})
		}

	case event.Type == "response.output_item.done":
		// Finalize with whatever buffer exists when the arguments-done
		// event was skipped. Calls already finalized stay finalized.
		if event.Item != nil && event.Item.Type == "function_call" && accum.Has(event.OutputIndex) {
			accum.Start(event.OutputIndex, event.Item.CallID, event.Item.Name)
			if call, ok := accum.Finish(event.OutputIndex); ok {
				return !emit(core.ChatChunk{Role: core.RoleAssistant, DeltaToolCalls: []core.ToolCall{call}})
			}
		}

	case event.Type == "response.completed" || event.Type == "response.incomplete":
		if event.Response == nil {
			return false
		}
		if remaining := accum.FinishAll(); len(remaining) > 0 {
			if !emit(core.ChatChunk{Role: core.RoleAssistant, DeltaToolCalls: remaining}) {
				return true
			}
		}
		hasCalls := false
		for _, item := range event.Response.Output {
			if item.Type == "function_call" {
				hasCalls = true
			}
		}
		fr := responsesFinish(event.Response, hasCalls)
		terminal := core.ChatChunk{
			ID:           event.Response.ID,
			Model:        event.Response.Model,
			FinishReason: &fr,
		}
		if event.Response.Usage != nil {
			usage := convertResponsesUsage(event.Response.Usage)
			terminal.Usage = &usage
		}
		emit(terminal)
		return true

	case event.Type == "response.failed":
		message := "response failed"
		if event.Response != nil && event.Response.Error != nil {
			message = event.Response.Error.Message
		}
		errCh <- core.E(core.CodeModelError, "responses api: %s", message)
		return true

	case event.Type == "error":
		message := event.Message
		if event.Error != nil {
			message = event.Error.Message
		}
		errCh <- core.E(core.CodeModelError, "responses api: %s", message)
		return true
	}

	return false
}
