package daemon

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/rpc"
)

// streamSink forwards chat events to the gRPC stream. All calls come
// from the single chat-loop goroutine, so sends stay FIFO.
type streamSink struct {
	server *Server
	stream rpc.ChatServerStream

	mu     sync.Mutex
	convID string
}

func (k *streamSink) conversation() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.convID
}

func (k *streamSink) setConversation(id string) {
	k.mu.Lock()
	k.convID = id
	k.mu.Unlock()
}

func (k *streamSink) send(event *rpc.ChatEvent) {
	k.server.touch()
	if err := k.stream.Send(event); err != nil {
		k.server.logger.Debug("chat stream send failed", "error", err)
	}
}

func (k *streamSink) Delta(content string) {
	k.send(&rpc.ChatEvent{Type: rpc.ChatEventDelta, Delta: &rpc.StreamDelta{Content: content}})
}

func (k *streamSink) ToolResult(name, result string, success bool) {
	k.send(&rpc.ChatEvent{Type: rpc.ChatEventToolResult, ToolResult: &rpc.ToolResult{
		ToolName: name,
		Result:   result,
		Success:  success,
	}})
}

func (k *streamSink) Usage(usage core.Usage) {
	k.send(&rpc.ChatEvent{Type: rpc.ChatEventUsage, Usage: &usage})
}

func (k *streamSink) ApprovalRequest(conversationID string, call core.ToolCall) {
	k.setConversation(conversationID)
	k.send(&rpc.ChatEvent{Type: rpc.ChatEventApprovalRequest, ApprovalRequest: &rpc.ToolApprovalRequest{
		ConversationID: conversationID,
		ToolCall:       call,
	}})
}

func (k *streamSink) Completed(conversationID string, message core.Message, usage core.Usage) {
	k.setConversation(conversationID)
	k.send(&rpc.ChatEvent{Type: rpc.ChatEventMessageCompleted, Completed: &rpc.MessageCompleted{
		ConversationID: conversationID,
		Message:        message,
		Usage:          usage,
	}})
}

// Chat drives one exchange. The first client message must be a send
// request; later client messages are tool-approval responses routed
// through the manager's pending map. The stream ends with the terminal
// MessageCompleted or Error event.
func (s *Server) Chat(stream rpc.ChatServerStream) error {
	s.touch()

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Send == nil {
		return status.Error(codes.InvalidArgument, "first chat message must be a send request")
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	sink := &streamSink{server: s, stream: stream}

	// Read task: demultiplex approval replies until the client side
	// closes. EOF cancels the chat loop; pending approvals observe a
	// denial through their closed channels.
	go func() {
		for {
			msg, rerr := stream.Recv()
			if rerr != nil {
				cancel()
				if convID := sink.conversation(); convID != "" {
					s.manager.CancelApprovals(convID)
				}
				return
			}
			s.touch()
			if msg.Approval == nil {
				s.logger.Warn("ignoring unexpected chat message while exchange in flight")
				continue
			}
			approval := core.Approval{
				Decision: msg.Approval.Decision,
				Reason:   msg.Approval.Reason,
			}
			if aerr := s.manager.ApproveTool(msg.Approval.ConversationID, msg.Approval.ToolCallID, approval); aerr != nil {
				s.logger.Warn("approval for unknown tool call",
					"conversation", msg.Approval.ConversationID,
					"tool_call", msg.Approval.ToolCallID)
			}
		}
	}()

	_, runErr := s.manager.SendMessage(ctx, first.Send.ConversationID, first.Send.Content, sink)
	if runErr != nil {
		s.logger.Error("chat exchange failed", "error", runErr)
		sink.send(&rpc.ChatEvent{Type: rpc.ChatEventError, Error: &rpc.ChatError{
			Code:    core.CodeOf(runErr),
			Message: runErr.Error(),
		}})
	}
	// Terminal event already sent: Completed by the sink on success,
	// Error above on failure.
	return nil
}
