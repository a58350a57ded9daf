package core

import "context"

// EventKind discriminates chat-loop fan-out events.
type EventKind string

const (
	// EventStreaming carries an incremental content delta.
	EventStreaming EventKind = "streaming"
	// EventToolResult is emitted after each tool completes.
	EventToolResult EventKind = "tool_result"
	// EventUsage carries the terminal usage for one provider call.
	EventUsage EventKind = "usage"
)

// Event is a chat-loop fan-out notification. Events are not persisted;
// they exist only to drive the UI.
type Event struct {
	Kind        EventKind
	Delta       string
	ToolName    string
	ToolResult  string
	ToolSuccess bool
	Usage       *Usage
}

// EventFunc receives loop events in production order.
type EventFunc func(Event)

// ApprovalFunc decides whether a tool call may run. It blocks until a
// verdict is available or the context is cancelled.
type ApprovalFunc func(ctx context.Context, call ToolCall) (Approval, error)
