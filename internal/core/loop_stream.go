package core

import (
	"context"
	"sort"
	"strings"
)

// collectStream consumes a chunk stream and reassembles it into a
// ChatResponse equivalent to the non-streaming path: content, reasoning
// and tool-call deltas accumulate, the role comes from the first chunk
// that carries one, and usage arrives with the terminal chunk.
func (c *Core) collectStream(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	chunkCh, errCh := c.provider.ChatStream(ctx, req)

	var (
		content      strings.Builder
		reasoning    strings.Builder
		signature    string
		role         Role
		responseID   string
		model        string
		finishReason FinishReason
		usage        Usage
		calls        = make(map[int]*ToolCall)
		order        []int
	)

	for chunkCh != nil || errCh != nil {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
				continue
			}
			if chunk.Role != "" && role == "" {
				role = chunk.Role
			}
			if chunk.ID != "" {
				responseID = chunk.ID
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.DeltaContent != "" {
				content.WriteString(chunk.DeltaContent)
				c.emit(Event{Kind: EventStreaming, Delta: chunk.DeltaContent})
			}
			if chunk.DeltaReasoning != "" {
				reasoning.WriteString(chunk.DeltaReasoning)
			}
			if chunk.DeltaSignature != "" {
				signature = chunk.DeltaSignature
			}
			for _, delta := range chunk.DeltaToolCalls {
				mergeToolCallDelta(calls, &order, delta)
			}
			if chunk.FinishReason != nil {
				finishReason = *chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
				c.emit(Event{Kind: EventUsage, Usage: chunk.Usage})
			}

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			errCh = nil

		case <-ctx.Done():
			return nil, Wrap(CodeInternal, ctx.Err(), "stream cancelled")
		}
	}

	if role == "" {
		role = RoleAssistant
	}

	msg := NewMessage("", role, content.String())
	if reasoning.Len() > 0 {
		msg.Reasoning = &Reasoning{Text: reasoning.String(), Signature: signature}
	}

	toolCalls := finalizeToolCalls(calls, order)
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
		finishReason = FinishToolCalls
	}
	if finishReason == "" {
		finishReason = FinishStop
	}

	return &ChatResponse{
		Message:      msg,
		Model:        model,
		Usage:        usage,
		FinishReason: finishReason,
		ID:           responseID,
		CreatedAt:    msg.CreatedAt,
	}, nil
}

// mergeToolCallDelta folds one streamed tool-call delta into the
// accumulator, keyed by provider index. Ids and names arrive in the
// first fragment that carries them; later fragments contribute only
// argument fragments, which concatenate in arrival order. A fragment
// arriving without a prior start for its index creates an implicit
// entry; it is dropped at finalization if no id ever arrives.
func mergeToolCallDelta(calls map[int]*ToolCall, order *[]int, delta ToolCall) {
	existing, ok := calls[delta.Index]
	if !ok {
		entry := delta
		calls[delta.Index] = &entry
		*order = append(*order, delta.Index)
		return
	}
	if existing.ID == "" {
		existing.ID = delta.ID
	}
	if existing.Function.Name == "" {
		existing.Function.Name = delta.Function.Name
	}
	existing.Function.Arguments = append(existing.Function.Arguments, delta.Function.Arguments...)
}

// finalizeToolCalls normalizes accumulated calls: fragments collapse to
// a single-element argument list to match the non-streaming path.
func finalizeToolCalls(calls map[int]*ToolCall, order []int) []ToolCall {
	sort.Ints(order)
	out := make([]ToolCall, 0, len(calls))
	for _, idx := range order {
		call := calls[idx]
		if call.ID == "" {
			// Provider violated the contract: fragments with no start.
			continue
		}
		finalized := *call
		if finalized.CallType == "" {
			finalized.CallType = "function"
		}
		if len(finalized.Function.Arguments) > 1 {
			finalized.Function.Arguments = []string{finalized.ArgumentsJSON()}
		}
		out = append(out, finalized)
	}
	return out
}
