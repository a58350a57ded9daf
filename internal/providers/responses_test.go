package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

func newTestResponses(t *testing.T, handler http.HandlerFunc) (*ResponsesClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewResponsesClient(Config{
		Provider: "responses",
		Model:    "gpt-test",
		APIKey:   "sk-test",
		BaseURL:  srv.URL,
	}, nil)
	if err != nil {
		t.Fatalf("NewResponsesClient() error = %v", err)
	}
	return c, srv
}

func TestResponsesChat(t *testing.T) {
	var gotReq responsesRequest
	c, _ := newTestResponses(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)

		json.NewEncoder(w).Encode(responsesResponse{
			ID:     "resp_1",
			Model:  "gpt-test",
			Status: "completed",
			Output: []responsesItem{
				{Type: "reasoning", Summary: []responsesSummary{{Type: "summary_text", Text: "pondered"}}},
				{Type: "message", Role: "assistant", Content: responsesContent{{Type: "output_text", Text: "hello"}}},
				{Type: "function_call", CallID: "call_1", Name: "echo", Arguments: `{"x":1}`},
			},
			Usage: &responsesUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		})
	})

	resp, err := c.Chat(context.Background(), core.ChatRequest{
		Messages: []core.Message{
			core.NewMessage("conv", core.RoleSystem, "rule one"),
			core.NewMessage("conv", core.RoleSystem, "rule two"),
			core.NewMessage("conv", core.RoleUser, "hi"),
		},
		Metadata: map[string]string{"previous_response_id": "resp_0"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	// System messages concatenate into instructions.
	if gotReq.Instructions != "rule one\n\nrule two" {
		t.Errorf("instructions = %q", gotReq.Instructions)
	}
	if gotReq.PreviousResponseID != "resp_0" {
		t.Errorf("previous_response_id = %q", gotReq.PreviousResponseID)
	}

	if resp.Message.Content != "hello" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Message.Reasoning == nil || resp.Message.Reasoning.Text != "pondered" {
		t.Errorf("reasoning = %+v", resp.Message.Reasoning)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.FinishReason != core.FinishToolCalls {
		t.Errorf("finish = %s", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestResponsesBuildRequestDropsUncorrelatedToolResult(t *testing.T) {
	c, _ := newTestResponses(t, func(w http.ResponseWriter, r *http.Request) {})

	orphan := core.NewMessage("conv", core.RoleTool, "result")
	orphan.Name = "echo" // tool_call_id deliberately absent

	wire := c.buildRequest(core.ChatRequest{
		Messages: []core.Message{
			core.NewMessage("conv", core.RoleUser, "hi"),
			orphan,
		},
	})
	if len(wire.Input) != 1 {
		t.Errorf("got %d input items, want 1 (orphan dropped)", len(wire.Input))
	}
}

func TestResponsesBuildRequestToolRoundTrip(t *testing.T) {
	c, _ := newTestResponses(t, func(w http.ResponseWriter, r *http.Request) {})

	assistant := core.NewMessage("conv", core.RoleAssistant, "")
	assistant.ToolCalls = []core.ToolCall{core.NewToolCall("call_1", "echo", `{"x":1}`)}
	toolMsg, _ := core.NewToolMessage("conv", "call_1", "echo", "done")

	wire := c.buildRequest(core.ChatRequest{
		Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "go"), assistant, toolMsg},
	})

	if len(wire.Input) != 3 {
		t.Fatalf("got %d input items, want 3", len(wire.Input))
	}
	if wire.Input[1].Type != "function_call" || wire.Input[1].CallID != "call_1" {
		t.Errorf("call item = %+v", wire.Input[1])
	}
	if wire.Input[2].Type != "function_call_output" || wire.Input[2].Output != "done" {
		t.Errorf("output item = %+v", wire.Input[2])
	}
}

func TestResponsesReasoningEffort(t *testing.T) {
	c, _ := newTestResponses(t, func(w http.ResponseWriter, r *http.Request) {})

	base := []core.Message{core.NewMessage("conv", core.RoleUser, "hi")}

	wire := c.buildRequest(core.ChatRequest{Messages: base, ReasoningLevel: core.ReasoningHigh})
	if wire.Reasoning == nil || wire.Reasoning.Effort != "high" {
		t.Errorf("reasoning = %+v", wire.Reasoning)
	}

	// Default level omits the field entirely.
	wire = c.buildRequest(core.ChatRequest{Messages: base})
	if wire.Reasoning != nil {
		t.Errorf("reasoning should be omitted, got %+v", wire.Reasoning)
	}
}

func TestResponsesStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		headers  map[string]string
		wantCode core.ErrorCode
		wantRA   time.Duration
	}{
		{name: "unauthorized", status: 401, wantCode: core.CodeAuthentication},
		{name: "rate limited", status: 429, headers: map[string]string{"Retry-After": "7"}, wantCode: core.CodeRateLimited, wantRA: 7 * time.Second},
		{name: "server error", status: 500, wantCode: core.CodeServiceUnavailable},
		{name: "bad request", status: 400, wantCode: core.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestResponses(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			})

			_, err := c.Chat(context.Background(), core.ChatRequest{
				Messages: []core.Message{core.NewMessage("conv", core.RoleUser, "hi")},
			})
			if !core.IsCode(err, tt.wantCode) {
				t.Errorf("CodeOf(err) = %v, want %v", core.CodeOf(err), tt.wantCode)
			}
			if got := core.RetryAfterOf(err); got != tt.wantRA {
				t.Errorf("RetryAfterOf(err) = %v, want %v", got, tt.wantRA)
			}
		})
	}
}

func TestResponsesFinishIncomplete(t *testing.T) {
	parsed := &responsesResponse{
		Status:            "incomplete",
		IncompleteDetails: &responsesIncomplete{Reason: "max_output_tokens"},
	}
	if got := responsesFinish(parsed, false); got != core.FinishLength {
		t.Errorf("finish = %s, want length", got)
	}

	parsed.IncompleteDetails.Reason = "content_filter"
	if got := responsesFinish(parsed, false); got != core.FinishStop {
		t.Errorf("finish = %s, want stop", got)
	}
}
