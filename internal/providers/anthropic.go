package providers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/neuromance/neuromance/internal/core"
)

const interleavedThinkingBeta = "interleaved-thinking-2025-05-14"

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client   *anthropic.Client
	thinking *anthropic.Client
	cfg      Config
	logger   *slog.Logger
}

// NewAnthropicClient creates a Messages adapter. A second client carrying
// the interleaved-thinking beta header is kept for requests that enable
// thinking alongside tools.
func NewAnthropicClient(cfg Config, logger *slog.Logger) (*AnthropicClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if cfg.ProxyURL != "" {
		apiKey = cfg.SealedToken
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if transport, err := proxyTransport(cfg); err != nil {
		return nil, err
	} else if transport != nil {
		opts = append(opts, anthropic.WithHTTPClient(&http.Client{Transport: transport}))
	}

	thinkingOpts := append([]anthropic.ClientOption{}, opts...)
	thinkingOpts = append(thinkingOpts, anthropic.WithBetaVersion(interleavedThinkingBeta))

	return &AnthropicClient{
		client:   anthropic.NewClient(apiKey, opts...),
		thinking: anthropic.NewClient(apiKey, thinkingOpts...),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

func (c *AnthropicClient) Config() Config          { return c.cfg }
func (c *AnthropicClient) SupportsTools() bool     { return true }
func (c *AnthropicClient) SupportsStreaming() bool { return true }

func (c *AnthropicClient) clientFor(req core.ChatRequest) *anthropic.Client {
	if req.EnableThinking && len(req.Tools) > 0 {
		return c.thinking
	}
	return c.client
}

// Chat performs one non-streaming Messages call.
func (c *AnthropicClient) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	if err := ValidateRequest(c, req); err != nil {
		return nil, err
	}

	areq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.clientFor(req).CreateMessages(ctx, areq)
	if err != nil {
		return nil, classifyError("anthropic", err)
	}

	msg := core.NewMessage("", core.RoleAssistant, "")

	var textParts []string
	var thinkingParts []string
	var signature string

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				textParts = append(textParts, *block.Text)
			}
		case "tool_use":
			if block.MessageContentToolUse != nil {
				tu := block.MessageContentToolUse
				if tu.ID == "" || tu.Name == "" {
					continue
				}
				args := string(tu.Input)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, core.NewToolCall(tu.ID, tu.Name, args))
			}
		case "thinking":
			if block.MessageContentThinking != nil {
				thinkingParts = append(thinkingParts, block.Thinking)
				if block.Signature != "" {
					signature = block.Signature
				}
			}
		}
	}

	msg.Content = strings.Join(textParts, "")
	if len(thinkingParts) > 0 {
		msg.Reasoning = &core.Reasoning{
			Text:      strings.Join(thinkingParts, "\n\n"),
			Signature: signature,
		}
	}

	finish := core.FinishStop
	switch {
	case len(msg.ToolCalls) > 0:
		finish = core.FinishToolCalls
	case resp.StopReason == "max_tokens":
		finish = core.FinishLength
	case resp.StopReason == "content_filtered":
		finish = core.FinishContentFilter
	}

	return &core.ChatResponse{
		Message:      msg,
		Model:        string(resp.Model),
		Usage:        anthropicUsage(resp.Usage),
		FinishReason: finish,
		ID:           resp.ID,
		CreatedAt:    msg.CreatedAt,
	}, nil
}

// ChatStream performs one streaming Messages call. The SDK drives
// callbacks; this adapter bridges them onto the chunk channel and runs
// the per-index accumulator for tool_use blocks.
func (c *AnthropicClient) ChatStream(ctx context.Context, req core.ChatRequest) (<-chan core.ChatChunk, <-chan error) {
	chunkCh := make(chan core.ChatChunk, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		if err := ValidateRequest(c, req); err != nil {
			errCh <- err
			return
		}

		areq, err := c.buildRequest(req)
		if err != nil {
			errCh <- err
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

		sreq := anthropic.MessagesStreamRequest{MessagesRequest: areq}

		sreq.OnError = func(errResp anthropic.ErrorResponse) {
			message := "anthropic streaming error"
			if errResp.Error != nil {
				message = errResp.Error.Message
			}
			errCh <- core.E(core.CodeModelError, "%s", message)
		}

		sreq.OnContentBlockStart = func(data anthropic.MessagesEventContentBlockStartData) {
			if data.ContentBlock.Type == "tool_use" && data.ContentBlock.MessageContentToolUse != nil {
				tu := data.ContentBlock.MessageContentToolUse
				accum.Start(data.Index, tu.ID, tu.Name)
			}
		}

		sreq.OnContentBlockDelta = func(data anthropic.MessagesEventContentBlockDeltaData) {
			switch data.Delta.Type {
			case "text_delta":
				if data.Delta.Text != nil {
					emit(core.ChatChunk{Role: core.RoleAssistant, DeltaContent: *data.Delta.Text})
				}
			case "thinking_delta":
				if data.Delta.MessageContentThinking != nil && data.Delta.Thinking != "" {
					emit(core.ChatChunk{Role: core.RoleAssistant, DeltaReasoning: data.Delta.Thinking})
				}
			case "signature_delta":
				if data.Delta.MessageContentThinking != nil && data.Delta.Signature != "" {
					emit(core.ChatChunk{Role: core.RoleAssistant, DeltaSignature: data.Delta.Signature})
				}
			}
		}

		// The SDK assembles partial-json input internally and hands back
		// the completed block on stop.
		sreq.OnContentBlockStop = func(data anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
			if content.Type == "tool_use" && content.MessageContentToolUse != nil {
				tu := content.MessageContentToolUse
				accum.Start(data.Index, tu.ID, tu.Name)
				if len(tu.Input) > 0 {
					accum.SetArgs(data.Index, string(tu.Input))
				}
			}
			if call, ok := accum.Finish(data.Index); ok {
				emit(core.ChatChunk{Role: core.RoleAssistant, DeltaToolCalls: []core.ToolCall{call}})
			}
		}

		resp, err := c.clientFor(req).CreateMessagesStream(ctx, sreq)
		if err != nil {
			errCh <- classifyError("anthropic", err)
			return
		}

		// Blocks the stream never stopped explicitly.
		if remaining := accum.FinishAll(); len(remaining) > 0 {
			emit(core.ChatChunk{Role: core.RoleAssistant, DeltaToolCalls: remaining})
		}

		usage := anthropicUsage(resp.Usage)
		terminal := core.ChatChunk{ID: resp.ID, Model: string(resp.Model)}
		if usage.TotalTokens > 0 {
			terminal.Usage = &usage
		}
		fr := core.FinishStop
		switch {
		case resp.StopReason == "tool_use":
			fr = core.FinishToolCalls
		case resp.StopReason == "max_tokens":
			fr = core.FinishLength
		}
		terminal.FinishReason = &fr
		emit(terminal)
	}()

	return chunkCh, errCh
}

// buildRequest maps the neutral request onto a Messages request. System
// messages collapse into MultiSystem; the last system part and the last
// tool definition carry the ephemeral cache_control hint. Tool results
// become user-role tool_result blocks.
func (c *AnthropicClient) buildRequest(req core.ChatRequest) (anthropic.MessagesRequest, error) {
	var systemParts []anthropic.MessageSystemPart
	var msgs []anthropic.Message

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
		case core.RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		case core.RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" && msg.Content != " " {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseMessageContent(
					tc.ID,
					tc.Function.Name,
					core.CoerceArguments(tc.Function.Arguments),
				))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextMessageContent(" "))
			}
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})
		case core.RoleTool:
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.ToolCallID, content, false),
				},
			})
		}
	}

	if len(systemParts) > 0 {
		systemParts[len(systemParts)-1].CacheControl = &anthropic.MessageCacheControl{
			Type: anthropic.CacheControlTypeEphemeral,
		}
	}

	var toolDefs []anthropic.ToolDefinition
	for _, def := range req.Tools {
		var schema map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return anthropic.MessagesRequest{}, core.Wrap(core.CodeSerialization, err, "invalid tool schema for %s", def.Name)
			}
		}
		toolDefs = append(toolDefs, anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	if len(toolDefs) > 0 {
		toolDefs[len(toolDefs)-1].CacheControl = &anthropic.MessageCacheControl{
			Type: anthropic.CacheControlTypeEphemeral,
		}
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	areq := anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if len(systemParts) > 0 {
		areq.MultiSystem = systemParts
	}
	if len(toolDefs) > 0 {
		areq.Tools = toolDefs
	}
	if req.Temperature != nil {
		areq.Temperature = req.Temperature
	}
	if req.TopP != nil {
		areq.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		areq.StopSequences = req.Stop
	}
	if req.EnableThinking {
		budget := maxTokens / 2
		if budget < 1024 {
			budget = 1024
		}
		areq.Thinking = &anthropic.Thinking{
			Type:         anthropic.ThinkingTypeEnabled,
			BudgetTokens: budget,
		}
		// Thinking requires default sampling.
		areq.Temperature = nil
		areq.TopP = nil
	}

	return areq, nil
}

func anthropicUsage(u anthropic.MessagesUsage) core.Usage {
	usage := core.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0 {
		usage.InputDetail = &core.UsageInputDetail{
			CachedTokens:        u.CacheReadInputTokens,
			CacheCreationTokens: u.CacheCreationInputTokens,
		}
	}
	return usage
}
