package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

const defaultResponsesBaseURL = "https://api.openai.com/v1"

// ResponsesClient talks to the OpenAI Responses API over raw HTTP. No SDK
// in use here covers /responses, so the wire format is handled directly.
type ResponsesClient struct {
	httpClient *http.Client
	cfg        Config
	baseURL    string
	logger     *slog.Logger
}

// NewResponsesClient creates a Responses API adapter.
func NewResponsesClient(cfg Config, logger *slog.Logger) (*ResponsesClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultResponsesBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := &http.Client{}
	if transport, err := proxyTransport(cfg); err != nil {
		return nil, err
	} else if transport != nil {
		httpClient.Transport = transport
	}

	return &ResponsesClient{
		httpClient: httpClient,
		cfg:        cfg,
		baseURL:    baseURL,
		logger:     logger,
	}, nil
}

func (c *ResponsesClient) Config() Config          { return c.cfg }
func (c *ResponsesClient) SupportsTools() bool     { return true }
func (c *ResponsesClient) SupportsStreaming() bool { return true }

// Wire types for /responses.

type responsesRequest struct {
	Model              string              `json:"model"`
	Input              []responsesItem     `json:"input"`
	Instructions       string              `json:"instructions,omitempty"`
	Tools              []responsesTool     `json:"tools,omitempty"`
	ToolChoice         any                 `json:"tool_choice,omitempty"`
	MaxOutputTokens    int                 `json:"max_output_tokens,omitempty"`
	Temperature        *float32            `json:"temperature,omitempty"`
	TopP               *float32            `json:"top_p,omitempty"`
	Stream             bool                `json:"stream,omitempty"`
	PreviousResponseID string              `json:"previous_response_id,omitempty"`
	Reasoning          *responsesReasoning `json:"reasoning,omitempty"`
	Store              bool                `json:"store"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// responsesItem covers the input/output item union: messages,
// function_call items and function_call_output items.
type responsesItem struct {
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Content   responsesContent   `json:"content,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
	Output    string             `json:"output,omitempty"`
	Summary   []responsesSummary `json:"summary,omitempty"`
	Status    string             `json:"status,omitempty"`
}

// responsesContent is a string on input and a part list on output.
type responsesContent []responsesPart

func (c responsesContent) MarshalJSON() ([]byte, error) {
	if len(c) == 1 && c[0].Type == "input_text" {
		return json.Marshal(c[0].Text)
	}
	return json.Marshal([]responsesPart(c))
}

func (c *responsesContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = responsesContent{{Type: "input_text", Text: s}}
		return nil
	}
	var parts []responsesPart
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return err
	}
	*c = parts
	return nil
}

type responsesPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesSummary struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesResponse struct {
	ID                string               `json:"id"`
	Model             string               `json:"model"`
	Status            string               `json:"status"`
	IncompleteDetails *responsesIncomplete `json:"incomplete_details,omitempty"`
	Output            []responsesItem      `json:"output"`
	Usage             *responsesUsage      `json:"usage,omitempty"`
	Error             *responsesError      `json:"error,omitempty"`
}

type responsesIncomplete struct {
	Reason string `json:"reason"`
}

type responsesUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	TotalTokens        int `json:"total_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
	OutputTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
}

type responsesError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Chat performs one non-streaming /responses call.
func (c *ResponsesClient) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	if err := ValidateRequest(c, req); err != nil {
		return nil, err
	}

	wire := c.buildRequest(req)

	var parsed responsesResponse
	if err := c.post(ctx, wire, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, core.E(core.CodeModelError, "responses api error: %s", parsed.Error.Message)
	}

	return c.convertResponse(&parsed)
}

func (c *ResponsesClient) post(ctx context.Context, wire responsesRequest, out any) error {
	body, err := json.Marshal(wire)
	if err != nil {
		return core.Wrap(core.CodeSerialization, err, "encoding responses request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return core.Wrap(core.CodeInternal, err, "building responses request")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyError("responses", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.Wrap(core.CodeSerialization, err, "decoding responses payload")
	}
	return nil
}

func (c *ResponsesClient) setHeaders(req *http.Request) {
	apiKey := c.cfg.APIKey
	if c.cfg.ProxyURL != "" {
		apiKey = c.cfg.SealedToken
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// statusError converts a non-200 HTTP response into a classified error,
// honoring Retry-After on 429 and 5xx.
func (c *ResponsesClient) statusError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(payload))
	var apiErr struct {
		Error *responsesError `json:"error"`
	}
	if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != nil {
		message = apiErr.Error.Message
	}

	var code core.ErrorCode
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code = core.CodeAuthentication
	case resp.StatusCode == http.StatusTooManyRequests:
		code = core.CodeRateLimited
	case resp.StatusCode >= 500:
		code = core.CodeServiceUnavailable
	case resp.StatusCode == http.StatusBadRequest:
		code = core.CodeInvalidRequest
	default:
		code = core.CodeModelError
	}

	derr := core.E(code, "responses api: %s (status %d)", message, resp.StatusCode)
	if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
		derr.RetryAfter = ra
	}
	return derr
}

// buildRequest maps the neutral request onto the wire request. System
// messages concatenate into instructions; tool results become
// function_call_output items; Tool messages with no call id are dropped.
func (c *ResponsesClient) buildRequest(req core.ChatRequest) responsesRequest {
	var instructions []string
	var input []responsesItem

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			instructions = append(instructions, msg.Content)
		case core.RoleUser:
			input = append(input, responsesItem{
				Type:    "message",
				Role:    "user",
				Content: responsesContent{{Type: "input_text", Text: msg.Content}},
			})
		case core.RoleAssistant:
			if msg.Content != "" && msg.Content != " " {
				input = append(input, responsesItem{
					Type:    "message",
					Role:    "assistant",
					Content: responsesContent{{Type: "output_text", Text: msg.Content}},
				})
			}
			for _, tc := range msg.ToolCalls {
				input = append(input, responsesItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Function.Name,
					Arguments: string(core.CoerceArguments(tc.Function.Arguments)),
				})
			}
		case core.RoleTool:
			// A tool result without its call id cannot be correlated.
			if msg.ToolCallID == "" {
				c.logger.Warn("dropping tool message with no call id", "name", msg.Name)
				continue
			}
			input = append(input, responsesItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: msg.Content,
			})
		}
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	wire := responsesRequest{
		Model: model,
		Input: input,
	}
	if len(instructions) > 0 {
		wire.Instructions = strings.Join(instructions, "\n\n")
	}

	for _, def := range req.Tools {
		wire.Tools = append(wire.Tools, responsesTool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	if len(req.Tools) > 0 {
		wire.ToolChoice = responsesToolChoice(req.ToolChoice)
	}

	if req.MaxTokens > 0 {
		wire.MaxOutputTokens = req.MaxTokens
	} else if c.cfg.MaxTokens > 0 {
		wire.MaxOutputTokens = c.cfg.MaxTokens
	}
	wire.Temperature = req.Temperature
	wire.TopP = req.TopP

	if prev, ok := req.Metadata["previous_response_id"]; ok && prev != "" {
		wire.PreviousResponseID = prev
	}
	if req.ReasoningLevel != core.ReasoningDefault {
		wire.Reasoning = &responsesReasoning{Effort: string(req.ReasoningLevel)}
	}

	return wire
}

func responsesToolChoice(choice *core.ToolChoice) any {
	if choice == nil {
		return "auto"
	}
	switch choice.Type {
	case core.ToolChoiceNone:
		return "none"
	case core.ToolChoiceRequired:
		return "required"
	case core.ToolChoiceFunction:
		return map[string]any{"type": "function", "name": choice.Name}
	default:
		return "auto"
	}
}

// convertResponse folds a terminal /responses payload into the neutral
// response: output_text parts concatenate, reasoning summaries join with
// blank lines, function_call items become tool calls.
func (c *ResponsesClient) convertResponse(parsed *responsesResponse) (*core.ChatResponse, error) {
	msg := core.NewMessage("", core.RoleAssistant, "")

	var textParts []string
	var reasoningParts []string

	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					textParts = append(textParts, part.Text)
				}
			}
		case "reasoning":
			for _, summary := range item.Summary {
				if summary.Type == "summary_text" {
					reasoningParts = append(reasoningParts, summary.Text)
				}
			}
		case "function_call":
			if item.CallID == "" || item.Name == "" {
				continue
			}
			args := item.Arguments
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, core.NewToolCall(item.CallID, item.Name, args))
		}
	}

	msg.Content = strings.Join(textParts, "")
	if len(reasoningParts) > 0 {
		msg.Reasoning = &core.Reasoning{Text: strings.Join(reasoningParts, "\n\n")}
	}

	response := &core.ChatResponse{
		Message:      msg,
		Model:        parsed.Model,
		FinishReason: responsesFinish(parsed, len(msg.ToolCalls) > 0),
		ID:           parsed.ID,
		CreatedAt:    msg.CreatedAt,
		Metadata:     map[string]string{"response_id": parsed.ID},
	}
	if parsed.Usage != nil {
		response.Usage = convertResponsesUsage(parsed.Usage)
	}
	return response, nil
}

// responsesFinish derives the finish reason from the response status.
func responsesFinish(parsed *responsesResponse, hasToolCalls bool) core.FinishReason {
	switch parsed.Status {
	case "completed":
		if hasToolCalls {
			return core.FinishToolCalls
		}
		return core.FinishStop
	case "incomplete":
		if parsed.IncompleteDetails != nil && parsed.IncompleteDetails.Reason == "max_output_tokens" {
			return core.FinishLength
		}
		return core.FinishStop
	case "failed":
		return core.FinishModelError
	default:
		if hasToolCalls {
			return core.FinishToolCalls
		}
		return core.FinishStop
	}
}

func convertResponsesUsage(u *responsesUsage) core.Usage {
	usage := core.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if u.InputTokensDetails.CachedTokens > 0 {
		usage.InputDetail = &core.UsageInputDetail{CachedTokens: u.InputTokensDetails.CachedTokens}
	}
	if u.OutputTokensDetails.ReasoningTokens > 0 {
		usage.OutputDetail = &core.UsageOutputDetail{ReasoningTokens: u.OutputTokensDetails.ReasoningTokens}
	}
	return usage
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
