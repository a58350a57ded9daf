package manager

import (
	"context"
	"encoding/json"

	"github.com/neuromance/neuromance/internal/core"
)

const usageMetadataKey = "usage_totals"

// SendMessage appends a user message to the target conversation, runs
// the chat loop against its model, persists everything the loop added
// and reports the terminal assistant message through the sink.
func (m *Manager) SendMessage(ctx context.Context, ref, content string, sink EventSink) (*core.Message, error) {
	if content == "" {
		return nil, core.E(core.CodeInvalidRequest, "message content is empty")
	}

	id, err := m.resolveTarget(ref)
	if err != nil {
		if ref != "" || !core.IsCode(err, core.CodeNoActiveConversation) {
			return nil, err
		}
		// No active conversation: sending starts a fresh one.
		conv, cerr := m.CreateConversation("")
		if cerr != nil {
			return nil, cerr
		}
		id = conv.ID
	}

	conv, err := m.store.LoadConversation(id)
	if err != nil {
		return nil, err
	}

	userMsg := core.NewMessage(conv.ID, core.RoleUser, content)
	if err := conv.Append(userMsg); err != nil {
		return nil, core.Wrap(core.CodeInvalidRequest, err, "appending user message")
	}
	if conv.Title == "" {
		conv.Title = titleFrom(content)
	}

	nickname, err := m.modelFor(conv)
	if err != nil {
		return nil, err
	}
	client, err := m.clientFor(conv.ID, nickname)
	if err != nil {
		return nil, err
	}
	profile, err := m.config.Profile(nickname)
	if err != nil {
		return nil, err
	}

	settings := m.config.Settings()
	loopCfg := core.LoopConfig{
		Model:            profile.Model,
		MaxTurns:         settings.MaxTurns,
		MaxRetries:       settings.MaxRetries,
		Streaming:        !settings.DisableStreaming,
		AutoApproveTools: settings.AutoApproveTools,
		MaxTokens:        profile.MaxTokens,
		EnableThinking:   settings.EnableThinking,
		ReasoningLevel:   core.ReasoningLevel(settings.ReasoningEffort),
	}

	var totals core.Usage
	onEvent := func(ev core.Event) {
		switch ev.Kind {
		case core.EventStreaming:
			sink.Delta(ev.Delta)
		case core.EventToolResult:
			sink.ToolResult(ev.ToolName, ev.ToolResult, ev.ToolSuccess)
		case core.EventUsage:
			if ev.Usage != nil {
				totals.Add(*ev.Usage)
				sink.Usage(*ev.Usage)
			}
		}
	}

	loop := core.NewCore(client, m.registry, loopCfg,
		core.WithEventFunc(onEvent),
		core.WithApprovalFunc(m.approvalFunc(conv.ID, sink)),
		core.WithLogger(m.logger),
	)

	history := conv.Messages
	added, runErr := loop.Run(ctx, conv.ID, history)

	// Persist whatever the loop produced, even on failure.
	for _, msg := range added {
		if aerr := conv.Append(msg); aerr != nil {
			m.logger.Warn("dropping unappendable loop message", "conversation", conv.ID, "error", aerr)
		}
	}
	m.accumulateUsage(conv, totals)
	if serr := m.store.SaveConversation(conv); serr != nil {
		if runErr == nil {
			runErr = serr
		} else {
			m.logger.Error("saving conversation after failed loop", "conversation", conv.ID, "error", serr)
		}
	}
	if serr := m.store.SetCurrent(conv.ID); serr != nil {
		m.logger.Warn("updating active pointer", "conversation", conv.ID, "error", serr)
	}

	if runErr != nil {
		return nil, runErr
	}

	final := terminalAssistant(added)
	if final == nil {
		return nil, core.E(core.CodeInternal, "chat loop produced no assistant message")
	}
	sink.Completed(conv.ID, *final, totals)
	return final, nil
}

// approvalFunc bridges the chat loop's blocking approval callback to
// the RPC-driven pending map.
func (m *Manager) approvalFunc(conversationID string, sink EventSink) core.ApprovalFunc {
	return func(ctx context.Context, call core.ToolCall) (core.Approval, error) {
		key := approvalKey{conversationID: conversationID, toolCallID: call.ID}
		ch := m.registerApproval(key)
		defer m.dropApproval(key)

		sink.ApprovalRequest(conversationID, call)

		select {
		case <-ctx.Done():
			return core.Approval{}, core.Wrap(core.CodeInternal, ctx.Err(), "cancelled awaiting tool approval")
		case approval, ok := <-ch:
			if !ok {
				return core.Approval{Decision: core.ApprovalDenied, Reason: "approval channel closed"}, nil
			}
			return approval, nil
		}
	}
}

func (m *Manager) accumulateUsage(conv *core.Conversation, usage core.Usage) {
	if usage == (core.Usage{}) {
		return
	}
	var totals core.Usage
	if raw, ok := conv.Metadata[usageMetadataKey]; ok {
		if err := json.Unmarshal(raw, &totals); err != nil {
			m.logger.Warn("resetting unreadable usage totals", "conversation", conv.ID, "error", err)
			totals = core.Usage{}
		}
	}
	totals.Add(usage)

	data, err := json.Marshal(totals)
	if err != nil {
		m.logger.Warn("encoding usage totals", "conversation", conv.ID, "error", err)
		return
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]json.RawMessage{}
	}
	conv.Metadata[usageMetadataKey] = data
}

// terminalAssistant returns the last assistant message produced by the
// loop.
func terminalAssistant(added []core.Message) *core.Message {
	for i := len(added) - 1; i >= 0; i-- {
		if added[i].Role == core.RoleAssistant {
			return &added[i]
		}
	}
	return nil
}

func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit])
}
