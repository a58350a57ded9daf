package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/neuromance/neuromance/internal/core"
)

// OpenAIClient talks to the OpenAI Chat Completions API, or any
// OpenAI-compatible endpoint reachable through a custom base URL.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient creates a Chat Completions adapter.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if cfg.ProxyURL != "" {
		apiKey = cfg.SealedToken
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if transport, err := proxyTransport(cfg); err != nil {
		return nil, err
	} else if transport != nil {
		oc.HTTPClient = &http.Client{Transport: transport}
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (c *OpenAIClient) Config() Config          { return c.cfg }
func (c *OpenAIClient) SupportsTools() bool     { return true }
func (c *OpenAIClient) SupportsStreaming() bool { return true }

// Chat performs one non-streaming completion.
func (c *OpenAIClient) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	if err := ValidateRequest(c, req); err != nil {
		return nil, err
	}

	oreq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, classifyError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.E(core.CodeModelError, "empty response from openai")
	}

	choice := resp.Choices[0]
	msg := core.NewMessage("", core.RoleAssistant, choice.Message.Content)

	for _, tc := range choice.Message.ToolCalls {
		call := core.NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, call)
	}

	finish := core.FinishStop
	switch {
	case len(msg.ToolCalls) > 0:
		finish = core.FinishToolCalls
	case choice.FinishReason == openai.FinishReasonLength:
		finish = core.FinishLength
	case choice.FinishReason == openai.FinishReasonContentFilter:
		finish = core.FinishContentFilter
	}

	return &core.ChatResponse{
		Message: msg,
		Model:   resp.Model,
		Usage: core.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: finish,
		ID:           resp.ID,
		CreatedAt:    msg.CreatedAt,
	}, nil
}

// ChatStream performs one streaming completion. Tool-call fragments are
// forwarded as indexed deltas; the chat loop merges them.
func (c *OpenAIClient) ChatStream(ctx context.Context, req core.ChatRequest) (<-chan core.ChatChunk, <-chan error) {
	chunkCh := make(chan core.ChatChunk, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		if err := ValidateRequest(c, req); err != nil {
			errCh <- err
			return
		}

		oreq, err := c.buildRequest(req)
		if err != nil {
			errCh <- err
			return
		}
		oreq.Stream = true
		oreq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := c.client.CreateChatCompletionStream(ctx, oreq)
		if err != nil {
			errCh <- classifyError("openai", err)
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
					return
				}
				errCh <- classifyError("openai", err)
				return
			}

			chunk := core.ChatChunk{ID: response.ID, Model: response.Model}

			// The terminal chunk may carry usage and no choices.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				chunk.Usage = &core.Usage{
					PromptTokens:     response.Usage.PromptTokens,
					CompletionTokens: response.Usage.CompletionTokens,
					TotalTokens:      response.Usage.TotalTokens,
				}
			}

			if len(response.Choices) > 0 {
				choice := response.Choices[0]
				chunk.Role = core.Role(choice.Delta.Role)
				chunk.DeltaContent = choice.Delta.Content

				for _, tc := range choice.Delta.ToolCalls {
					delta := core.ToolCall{
						ID:       tc.ID,
						CallType: "function",
						Function: core.FunctionCall{Name: tc.Function.Name},
					}
					if tc.Function.Arguments != "" {
						delta.Function.Arguments = []string{tc.Function.Arguments}
					}
					if tc.Index != nil {
						delta.Index = *tc.Index
					}
					chunk.DeltaToolCalls = append(chunk.DeltaToolCalls, delta)
				}

				if choice.FinishReason != "" {
					fr := mapOpenAIFinish(choice.FinishReason)
					chunk.FinishReason = &fr
				}
			}

			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunkCh, errCh
}

// buildRequest maps the neutral request onto the wire request. Messages
// map 1:1 by role; empty assistant content is sent as a single space so
// the SDK never serializes null content alongside tool calls.
func (c *OpenAIClient) buildRequest(req core.ChatRequest) (openai.ChatCompletionRequest, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case core.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case core.RoleAssistant:
			content := msg.Content
			if content == "" && len(msg.ToolCalls) > 0 {
				content = " "
			}
			var toolCalls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: string(core.CoerceArguments(tc.Function.Arguments)),
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			})
		case core.RoleTool:
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Content:    content,
			})
		}
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	oreq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}

	if len(req.Tools) > 0 {
		tools, err := openAITools(req.Tools)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		oreq.Tools = tools
		oreq.ToolChoice = openAIToolChoice(req.ToolChoice)
	}

	if req.MaxTokens > 0 {
		oreq.MaxTokens = req.MaxTokens
	} else if c.cfg.MaxTokens > 0 {
		oreq.MaxTokens = c.cfg.MaxTokens
	}
	if req.Temperature != nil {
		oreq.Temperature = req.Temperature
	}
	if req.TopP != nil {
		oreq.TopP = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		oreq.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		oreq.PresencePenalty = *req.PresencePenalty
	}
	if len(req.Stop) > 0 {
		oreq.Stop = req.Stop
	}
	if req.User != "" {
		oreq.User = req.User
	}

	return oreq, nil
}

func openAITools(defs []core.ToolDefinition) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, core.Wrap(core.CodeSerialization, err, "invalid tool schema for %s", def.Name)
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

func openAIToolChoice(choice *core.ToolChoice) any {
	if choice == nil {
		return "auto"
	}
	switch choice.Type {
	case core.ToolChoiceNone:
		return "none"
	case core.ToolChoiceRequired:
		return "required"
	case core.ToolChoiceFunction:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Name},
		}
	default:
		return "auto"
	}
}

func mapOpenAIFinish(fr openai.FinishReason) core.FinishReason {
	switch fr {
	case openai.FinishReasonToolCalls:
		return core.FinishToolCalls
	case openai.FinishReasonLength:
		return core.FinishLength
	case openai.FinishReasonContentFilter:
		return core.FinishContentFilter
	default:
		return core.FinishStop
	}
}
