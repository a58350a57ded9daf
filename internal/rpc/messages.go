package rpc

import (
	"strings"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

// Version is the protocol version the daemon speaks. Clients and
// servers are compatible when major.minor match.
const Version = "0.1.0"

// CompatibleVersions reports whether two protocol versions agree on
// major.minor.
func CompatibleVersions(a, b string) bool {
	return majorMinor(a) == majorMinor(b) && majorMinor(a) != ""
}

func majorMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// Empty is the request/response for RPCs that carry no payload.
type Empty struct{}

// ConversationInfo is the summary view returned by listing RPCs.
type ConversationInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Bookmarks    []string  `json:"bookmarks,omitempty"`
	Active       bool      `json:"active,omitempty"`
}

type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
}

// ListMessagesRequest asks for the most recent messages of a
// conversation. An empty ConversationID targets the active one.
type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []core.Message `json:"messages"`
}

type SetBookmarkRequest struct {
	Name           string `json:"name"`
	ConversationID string `json:"conversation_id"`
}

type RemoveBookmarkRequest struct {
	Name string `json:"name"`
}

type DeleteConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// SwitchModelRequest changes the model for a conversation. An empty
// ConversationID targets the active one.
type SwitchModelRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model"`
}

type ModelInfo struct {
	Nickname string `json:"nickname"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Default  bool   `json:"default,omitempty"`
}

type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

type StatusResponse struct {
	Version            string `json:"version"`
	PID                int    `json:"pid"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	ActiveConversation string `json:"active_conversation,omitempty"`
}

type DetailedStatusResponse struct {
	StatusResponse
	Conversations    int       `json:"conversations"`
	CachedClients    int       `json:"cached_clients"`
	PendingApprovals int       `json:"pending_approvals"`
	LastActivity     time.Time `json:"last_activity"`
}

type HealthCheckRequest struct {
	ClientVersion string `json:"client_version"`
}

type HealthCheckResponse struct {
	ServerVersion string `json:"server_version"`
	Compatible    bool   `json:"compatible"`
}

// SendMessageRequest opens a chat exchange. An empty ConversationID
// targets the active conversation.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

// ToolApprovalResponse answers a pending ToolApprovalRequest.
type ToolApprovalResponse struct {
	ConversationID string                `json:"conversation_id"`
	ToolCallID     string                `json:"tool_call_id"`
	Decision       core.ApprovalDecision `json:"decision"`
	Reason         string                `json:"reason,omitempty"`
}

// ChatClientMessage is the client-to-server side of the chat stream.
// Exactly one field is set.
type ChatClientMessage struct {
	Send     *SendMessageRequest   `json:"send,omitempty"`
	Approval *ToolApprovalResponse `json:"approval,omitempty"`
}

// ChatEventType discriminates server-to-client chat events.
type ChatEventType string

const (
	ChatEventDelta            ChatEventType = "delta"
	ChatEventToolResult       ChatEventType = "tool_result"
	ChatEventUsage            ChatEventType = "usage"
	ChatEventApprovalRequest  ChatEventType = "approval_request"
	ChatEventMessageCompleted ChatEventType = "message_completed"
	ChatEventError            ChatEventType = "error"
)

// StreamDelta is one incremental piece of assistant output.
type StreamDelta struct {
	Content string `json:"content"`
}

// ToolResult reports one completed tool execution.
type ToolResult struct {
	ToolName string `json:"tool_name"`
	Result   string `json:"result"`
	Success  bool   `json:"success"`
}

// ToolApprovalRequest asks the client to approve a tool call before it
// runs.
type ToolApprovalRequest struct {
	ConversationID string        `json:"conversation_id"`
	ToolCall       core.ToolCall `json:"tool_call"`
}

// MessageCompleted is the terminal event of a successful exchange.
type MessageCompleted struct {
	ConversationID string       `json:"conversation_id"`
	Message        core.Message `json:"message"`
	Usage          core.Usage   `json:"usage"`
}

// ChatError is the terminal event of a failed exchange. Code is the
// stable machine-readable taxonomy value.
type ChatError struct {
	Code    core.ErrorCode `json:"code"`
	Message string         `json:"message"`
}

// ChatEvent is the server-to-client side of the chat stream. The field
// matching Type is set; all others are nil.
type ChatEvent struct {
	Type            ChatEventType        `json:"type"`
	Delta           *StreamDelta         `json:"delta,omitempty"`
	ToolResult      *ToolResult          `json:"tool_result,omitempty"`
	Usage           *core.Usage          `json:"usage,omitempty"`
	ApprovalRequest *ToolApprovalRequest `json:"approval_request,omitempty"`
	Completed       *MessageCompleted    `json:"completed,omitempty"`
	Error           *ChatError           `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *ChatEvent) Terminal() bool {
	return e.Type == ChatEventMessageCompleted || e.Type == ChatEventError
}
