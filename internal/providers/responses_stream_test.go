package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/neuromance/neuromance/internal/core"
)

func sseHandler(t *testing.T, events []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}
}

func collectChunks(t *testing.T, c *ResponsesClient, req core.ChatRequest) ([]core.ChatChunk, error) {
	t.Helper()
	chunkCh, errCh := c.ChatStream(context.Background(), req)

	var chunks []core.ChatChunk
	for chunkCh != nil || errCh != nil {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
				continue
			}
			chunks = append(chunks, chunk)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return chunks, err
			}
		}
	}
	return chunks, nil
}

func TestResponsesStreamText(t *testing.T) {
	events := []string{
		`{"type":"response.created","response":{"id":"resp_1","model":"gpt-test","status":"in_progress"}}`,
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.output_text.delta","delta":"lo"}`,
		`{"type":"response.completed","response":{"id":"resp_1","model":"gpt-test","status":"completed","usage":{"input_tokens":4,"output_tokens":2,"total_tokens":6}}}`,
		`[DONE]`,
	}
	c, _ := newTestResponses(t, sseHandler(t, events))

	chunks, err := collectChunks(t, c, core.ChatRequest{
		Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "hi")},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	var content strings.Builder
	var usage *core.Usage
	var finish *core.FinishReason
	for _, chunk := range chunks {
		content.WriteString(chunk.DeltaContent)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.FinishReason != nil {
			finish = chunk.FinishReason
		}
	}
	if content.String() != "Hello" {
		t.Errorf("content = %q", content.String())
	}
	if usage == nil || usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", usage)
	}
	if finish == nil || *finish != core.FinishStop {
		t.Errorf("finish = %v", finish)
	}
}

func TestResponsesStreamArgumentsDoneWins(t *testing.T) {
	events := []string{
		`{"type":"response.created","response":{"id":"resp_1","model":"gpt-test","status":"in_progress"}}`,
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"echo"}}`,
		`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"par"}`,
		`{"type":"response.function_call_arguments.done","output_index":0,"arguments":"{\"x\":1}"}`,
		`{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"echo"}}`,
		`{"type":"response.completed","response":{"id":"resp_1","model":"gpt-test","status":"completed","output":[{"type":"function_call","call_id":"call_1","name":"echo"}]}}`,
		`[DONE]`,
	}
	c, _ := newTestResponses(t, sseHandler(t, events))

	chunks, err := collectChunks(t, c, core.ChatRequest{
		Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "go")},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	var calls []core.ToolCall
	for _, chunk := range chunks {
		calls = append(calls, chunk.DeltaToolCalls...)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	// The done event's arguments replace the partial delta buffer.
	if calls[0].Function.Arguments[0] != `{"x":1}` {
		t.Errorf("arguments = %v", calls[0].Function.Arguments)
	}
	if calls[0].ID != "call_1" || calls[0].Function.Name != "echo" {
		t.Errorf("identity = %q/%q", calls[0].ID, calls[0].Function.Name)
	}
}

func TestResponsesStreamDeltaFallback(t *testing.T) {
	// No arguments.done event: accumulated deltas finalize at item.done.
	events := []string{
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"echo"}}`,
		`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"x\":"}`,
		`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"2}"}`,
		`{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"echo"}}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","output":[{"type":"function_call","call_id":"call_1","name":"echo"}]}}`,
		`[DONE]`,
	}
	c, _ := newTestResponses(t, sseHandler(t, events))

	chunks, err := collectChunks(t, c, core.ChatRequest{
		Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "go")},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	var calls []core.ToolCall
	for _, chunk := range chunks {
		calls = append(calls, chunk.DeltaToolCalls...)
	}
	if len(calls) != 1 || calls[0].Function.Arguments[0] != `{"x":2}` {
		t.Errorf("calls = %+v", calls)
	}
}

func TestResponsesStreamError(t *testing.T) {
	events := []string{
		`{"type":"error","message":"boom"}`,
	}
	c, _ := newTestResponses(t, sseHandler(t, events))

	_, err := collectChunks(t, c, core.ChatRequest{
		Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "hi")},
		Stream:   true,
	})
	if !core.IsCode(err, core.CodeModelError) {
		t.Errorf("CodeOf(err) = %v, want model_error", core.CodeOf(err))
	}
}

func TestResponsesStreamHTTPError(t *testing.T) {
	c, _ := newTestResponses(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})

	_, err := collectChunks(t, c, core.ChatRequest{
		Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "hi")},
		Stream:   true,
	})
	if !core.IsCode(err, core.CodeRateLimited) {
		t.Errorf("CodeOf(err) = %v, want rate_limited", core.CodeOf(err))
	}
}
