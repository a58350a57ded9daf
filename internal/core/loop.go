package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider abstracts one configured model endpoint. Implementations live
// in internal/providers.
type Provider interface {
	SupportsTools() bool
	SupportsStreaming() bool
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, <-chan error)
}

// LoopConfig holds the knobs for one chat-loop run.
type LoopConfig struct {
	Model            string
	MaxTurns         int // 0 = unlimited
	MaxRetries       int
	Streaming        bool
	AutoApproveTools bool
	Temperature      *float32
	TopP             *float32
	MaxTokens        int
	EnableThinking   bool
	ReasoningLevel   ReasoningLevel
}

// Core drives one client-initiated message to completion or error. Each
// instance is scoped to a single request; no state is shared across
// conversations.
type Core struct {
	provider Provider
	registry *Registry
	cfg      LoopConfig
	onEvent  EventFunc
	approve  ApprovalFunc
	logger   *slog.Logger
}

// Option configures a Core.
type Option func(*Core)

// WithEventFunc registers the streaming fan-out callback.
func WithEventFunc(fn EventFunc) Option {
	return func(c *Core) { c.onEvent = fn }
}

// WithApprovalFunc registers the tool-approval callback.
func WithApprovalFunc(fn ApprovalFunc) Option {
	return func(c *Core) { c.approve = fn }
}

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// NewCore creates a chat loop over the given provider and tool registry.
func NewCore(provider Provider, registry *Registry, cfg LoopConfig, opts ...Option) *Core {
	c := &Core{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the multi-turn tool loop. history must already include the
// new user turn. It returns the messages added by the loop (assistant
// and tool messages, in order) for the caller to persist.
func (c *Core) Run(ctx context.Context, conversationID string, history []Message) ([]Message, error) {
	var added []Message
	turns := 0

	for {
		select {
		case <-ctx.Done():
			return added, Wrap(CodeInternal, ctx.Err(), "chat loop cancelled")
		default:
		}

		snapshot := make([]Message, 0, len(history)+len(added))
		snapshot = append(snapshot, history...)
		snapshot = append(snapshot, added...)

		resp, err := c.callProvider(ctx, snapshot)
		if err != nil {
			return added, err
		}

		assistant := resp.Message
		assistant.ConversationID = conversationID
		added = append(added, assistant)

		if len(assistant.ToolCalls) == 0 {
			return added, nil
		}

		// Tool calls within one turn run sequentially in provider order.
		for _, call := range assistant.ToolCalls {
			toolMsg, err := c.handleToolCall(ctx, conversationID, call)
			if err != nil {
				return added, err
			}
			added = append(added, toolMsg)
		}

		turns++
		if c.cfg.MaxTurns > 0 && turns >= c.cfg.MaxTurns {
			return added, E(CodeMaxTurnsExceeded, "max turns (%d) exceeded", c.cfg.MaxTurns)
		}
	}
}

// buildRequest assembles the neutral request from the current snapshot.
func (c *Core) buildRequest(snapshot []Message) ChatRequest {
	req := ChatRequest{
		Messages:       snapshot,
		Model:          c.cfg.Model,
		Temperature:    c.cfg.Temperature,
		TopP:           c.cfg.TopP,
		MaxTokens:      c.cfg.MaxTokens,
		EnableThinking: c.cfg.EnableThinking,
		ReasoningLevel: c.cfg.ReasoningLevel,
	}
	if c.provider.SupportsTools() && c.registry.Len() > 0 {
		req.Tools = c.registry.Definitions()
		req.ToolChoice = &ToolChoice{Type: ToolChoiceAuto}
	}
	if c.cfg.Streaming && c.provider.SupportsStreaming() {
		req.Stream = true
	}
	return req
}

// callProvider performs one provider call, streaming when enabled.
// Non-streaming calls go through the retry policy; streaming connections
// are never auto-retried.
func (c *Core) callProvider(ctx context.Context, snapshot []Message) (*ChatResponse, error) {
	req := c.buildRequest(snapshot)

	if req.Stream {
		return c.collectStream(ctx, req)
	}

	policy := DefaultRetryPolicy()
	if c.cfg.MaxRetries > 0 {
		policy.MaxRetries = c.cfg.MaxRetries
	}
	return Retry(ctx, policy, func(ctx context.Context) (*ChatResponse, error) {
		return c.provider.Chat(ctx, req)
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("retrying provider call",
			"attempt", attempt,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", err)
	})
}

// handleToolCall runs the approval gate and executes or denies one call.
func (c *Core) handleToolCall(ctx context.Context, conversationID string, call ToolCall) (Message, error) {
	name := call.Function.Name

	approval, err := c.approvalFor(ctx, call)
	if err != nil {
		return Message{}, err
	}

	switch approval.Decision {
	case ApprovalQuit:
		return Message{}, E(CodeUserQuit, "user quit during tool approval")

	case ApprovalDenied:
		reason := approval.Reason
		if reason == "" {
			reason = "denied"
		}
		content := fmt.Sprintf("Tool execution denied: %s", reason)
		msg, merr := NewToolMessage(conversationID, call.ID, name, content)
		if merr != nil {
			return Message{}, Wrap(CodeInternal, merr, "building denial message")
		}
		c.emit(Event{Kind: EventToolResult, ToolName: name, ToolResult: content, ToolSuccess: false})
		return msg, nil
	}

	result, execErr := c.registry.ExecuteCall(ctx, call)
	success := execErr == nil
	if execErr != nil {
		// Tool failures become Tool-role messages so the model can react.
		result = fmt.Sprintf("Error: %v", execErr)
	}
	msg, merr := NewToolMessage(conversationID, call.ID, name, result)
	if merr != nil {
		return Message{}, Wrap(CodeInternal, merr, "building tool result message")
	}
	c.emit(Event{Kind: EventToolResult, ToolName: name, ToolResult: result, ToolSuccess: success})
	return msg, nil
}

// approvalFor resolves the verdict for one tool call: global auto-approve
// first, then the tool's own flag, then the registered callback.
func (c *Core) approvalFor(ctx context.Context, call ToolCall) (Approval, error) {
	if c.cfg.AutoApproveTools {
		return Approval{Decision: ApprovalApproved}, nil
	}
	if tool, ok := c.registry.Get(call.Function.Name); ok && tool.AutoApproved() {
		return Approval{Decision: ApprovalApproved}, nil
	}
	if c.approve != nil {
		approval, err := c.approve(ctx, call)
		if err != nil {
			return Approval{}, err
		}
		return approval, nil
	}
	return Approval{Decision: ApprovalDenied, Reason: "no approval mechanism"}, nil
}

func (c *Core) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
