package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason reports why the provider stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishModelError    FinishReason = "model_error"
)

// FunctionCall holds the function name and its argument payload.
// Arguments is a list of strings because the Anthropic streaming path may
// deliver JSON in fragments; the chat loop concatenates before parsing.
type FunctionCall struct {
	Name      string   `json:"name"`
	Arguments []string `json:"arguments"`
}

// ToolCall represents a function the model requested.
type ToolCall struct {
	ID       string       `json:"id"`
	CallType string       `json:"call_type"`
	Function FunctionCall `json:"function"`
	// Index is the provider-assigned position within the streamed output.
	// It is the merge key for streamed fragments and is not persisted.
	Index int `json:"-"`
}

// NewToolCall builds a function tool call.
func NewToolCall(id, name string, args ...string) ToolCall {
	return ToolCall{
		ID:       id,
		CallType: "function",
		Function: FunctionCall{Name: name, Arguments: args},
	}
}

// ArgumentsJSON concatenates argument fragments into the raw JSON string.
func (tc ToolCall) ArgumentsJSON() string {
	switch len(tc.Function.Arguments) {
	case 0:
		return ""
	case 1:
		return tc.Function.Arguments[0]
	}
	var b []byte
	for _, frag := range tc.Function.Arguments {
		b = append(b, frag...)
	}
	return string(b)
}

// UsageInputDetail breaks down prompt tokens by cache behavior.
type UsageInputDetail struct {
	CachedTokens        int `json:"cached_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// UsageOutputDetail breaks down completion tokens.
type UsageOutputDetail struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Usage holds token accounting returned by providers.
type Usage struct {
	PromptTokens     int                `json:"prompt_tokens"`
	CompletionTokens int                `json:"completion_tokens"`
	TotalTokens      int                `json:"total_tokens"`
	Cost             *float64           `json:"cost,omitempty"`
	InputDetail      *UsageInputDetail  `json:"input_detail,omitempty"`
	OutputDetail     *UsageOutputDetail `json:"output_detail,omitempty"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Reasoning carries a provider thinking block and its opaque signature.
type Reasoning struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// Message is the provider-agnostic chat message.
type Message struct {
	ID             string                     `json:"id"`
	ConversationID string                     `json:"conversation_id"`
	Role           Role                       `json:"role"`
	Content        string                     `json:"content"`
	ToolCalls      []ToolCall                 `json:"tool_calls,omitempty"`
	ToolCallID     string                     `json:"tool_call_id,omitempty"`
	Name           string                     `json:"name,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	Reasoning      *Reasoning                 `json:"reasoning,omitempty"`
	Metadata       map[string]json.RawMessage `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(conversationID string, role Role, content string) Message {
	return Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewToolMessage creates a Tool-role message answering the given call.
// Tool messages must reference the originating call id and tool name.
func NewToolMessage(conversationID, toolCallID, name, content string) (Message, error) {
	if toolCallID == "" {
		return Message{}, fmt.Errorf("tool message requires a tool_call_id")
	}
	if name == "" {
		return Message{}, fmt.Errorf("tool message requires a tool name")
	}
	msg := NewMessage(conversationID, RoleTool, content)
	msg.ToolCallID = toolCallID
	msg.Name = name
	return msg, nil
}

// AttachToolCalls sets the tool calls on an assistant message.
func (m *Message) AttachToolCalls(calls ...ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	if m.Role != RoleAssistant {
		return fmt.Errorf("tool calls are only valid on assistant messages, got role %q", m.Role)
	}
	m.ToolCalls = append(m.ToolCalls, calls...)
	return nil
}

// Validate checks the message invariants.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("tool calls attached to %s message", m.Role)
	}
	if m.Role == RoleTool && (m.ToolCallID == "" || m.Name == "") {
		return fmt.Errorf("tool message missing tool_call_id or name")
	}
	return nil
}

// ConversationStatus tracks the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusPaused   ConversationStatus = "paused"
	StatusArchived ConversationStatus = "archived"
	StatusDeleted  ConversationStatus = "deleted"
)

// Conversation is an ordered message history with identity and status.
type Conversation struct {
	ID          string                     `json:"id"`
	Title       string                     `json:"title,omitempty"`
	Description string                     `json:"description,omitempty"`
	Status      ConversationStatus         `json:"status"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
	Messages    []Message                  `json:"messages"`
}

// NewConversation creates an empty active conversation.
func NewConversation() *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
}

// Append adds a message to the conversation. The message must belong to
// this conversation and satisfy the message invariants.
func (c *Conversation) Append(msg Message) error {
	if msg.ConversationID != c.ID {
		return fmt.Errorf("message conversation_id %q does not match conversation %q", msg.ConversationID, c.ID)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus transitions the conversation status and bumps updated_at.
func (c *Conversation) SetStatus(status ConversationStatus) {
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
}

// ToolChoiceType selects the tool-choice policy for a request.
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceRequired ToolChoiceType = "required"
	ToolChoiceFunction ToolChoiceType = "function"
)

// ToolChoice directs the model's use of tools. Name is set only for the
// Function variant.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name,omitempty"`
}

// ReasoningLevel maps to request-level reasoning effort where supported.
// The default level omits the field from the wire request entirely.
type ReasoningLevel string

const (
	ReasoningDefault ReasoningLevel = ""
	ReasoningLow     ReasoningLevel = "low"
	ReasoningMedium  ReasoningLevel = "medium"
	ReasoningHigh    ReasoningLevel = "high"
)

// ToolDefinition is the JSON-schema description a provider expects for
// function calling.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is the neutral provider request. Messages is a shared
// snapshot: Clone copies the struct but not the backing array, so handing
// a request to a provider is O(1).
type ChatRequest struct {
	Messages         []Message         `json:"messages"`
	Model            string            `json:"model,omitempty"`
	Temperature      *float32          `json:"temperature,omitempty"`
	TopP             *float32          `json:"top_p,omitempty"`
	FrequencyPenalty *float32          `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32          `json:"presence_penalty,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	Tools            []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice       *ToolChoice       `json:"tool_choice,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	User             string            `json:"user,omitempty"`
	EnableThinking   bool              `json:"enable_thinking,omitempty"`
	ReasoningLevel   ReasoningLevel    `json:"reasoning_level,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Clone returns a shallow copy sharing the message snapshot.
func (r ChatRequest) Clone() ChatRequest {
	return r
}

// Validate checks sampling parameters and structural requirements before
// a request is handed to a provider.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("request has no messages")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature %v out of range [0, 2]", *r.Temperature)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("top_p %v out of range [0, 1]", *r.TopP)
	}
	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2 || *r.FrequencyPenalty > 2) {
		return fmt.Errorf("frequency_penalty %v out of range [-2, 2]", *r.FrequencyPenalty)
	}
	if r.PresencePenalty != nil && (*r.PresencePenalty < -2 || *r.PresencePenalty > 2) {
		return fmt.Errorf("presence_penalty %v out of range [-2, 2]", *r.PresencePenalty)
	}
	return nil
}

// ChatResponse is a normalized result of one provider call.
type ChatResponse struct {
	Message      Message           `json:"message"`
	Model        string            `json:"model"`
	Usage        Usage             `json:"usage"`
	FinishReason FinishReason      `json:"finish_reason"`
	ID           string            `json:"id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ChatChunk is the incremental streaming variant of ChatResponse.
type ChatChunk struct {
	ID             string        `json:"id,omitempty"`
	Model          string        `json:"model,omitempty"`
	Role           Role          `json:"role,omitempty"`
	DeltaContent   string        `json:"delta_content,omitempty"`
	DeltaReasoning string        `json:"delta_reasoning,omitempty"`
	DeltaSignature string        `json:"delta_signature,omitempty"`
	DeltaToolCalls []ToolCall    `json:"delta_tool_calls,omitempty"`
	FinishReason   *FinishReason `json:"finish_reason,omitempty"`
	Usage          *Usage        `json:"usage,omitempty"`
}

// ApprovalDecision is the verdict for a pending tool call.
type ApprovalDecision string

const (
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalDenied   ApprovalDecision = "denied"
	// ApprovalQuit terminates the chat loop with a user-quit error.
	ApprovalQuit ApprovalDecision = "quit"
)

// Approval is the answer to a tool-approval request.
type Approval struct {
	Decision ApprovalDecision `json:"decision"`
	Reason   string           `json:"reason,omitempty"`
}
