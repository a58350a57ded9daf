package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/neuromance/neuromance/internal/client"
	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/rpc"
)

// noColor is read once at startup; NO_COLOR disables ANSI styling.
var noColor = os.Getenv("NO_COLOR") != ""

func colorize(code, s string) string {
	if noColor {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func colorRole(role string) string {
	switch role {
	case "user":
		return colorize("36", role)
	case "assistant":
		return colorize("32", role)
	case "tool":
		return colorize("33", role)
	default:
		return role
	}
}

// runChat drives one exchange over the bidirectional stream, answering
// approval requests from the terminal.
func runChat(ctx context.Context, conn *client.Conn, conversation, content string) error {
	stream, err := conn.RPC.Chat(ctx)
	if err != nil {
		return err
	}
	if err := stream.Send(&rpc.ChatClientMessage{Send: &rpc.SendMessageRequest{
		ConversationID: conversation,
		Content:        content,
	}}); err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	streamed := false

	for {
		event, err := stream.Recv()
		if err != nil {
			return err
		}

		switch event.Type {
		case rpc.ChatEventDelta:
			streamed = true
			fmt.Print(event.Delta.Content)

		case rpc.ChatEventToolResult:
			status := colorize("32", "ok")
			if !event.ToolResult.Success {
				status = colorize("31", "failed")
			}
			fmt.Printf("\n%s %s (%s)\n", colorize("33", "[tool]"), event.ToolResult.ToolName, status)

		case rpc.ChatEventUsage:
			// Token accounting is visible in the conversation metadata.

		case rpc.ChatEventApprovalRequest:
			approval, err := promptApproval(stdin, event.ApprovalRequest.ToolCall)
			if err != nil {
				return err
			}
			if err := stream.Send(&rpc.ChatClientMessage{Approval: &rpc.ToolApprovalResponse{
				ConversationID: event.ApprovalRequest.ConversationID,
				ToolCallID:     event.ApprovalRequest.ToolCall.ID,
				Decision:       approval.Decision,
				Reason:         approval.Reason,
			}}); err != nil {
				return err
			}

		case rpc.ChatEventMessageCompleted:
			if !streamed && event.Completed.Message.Content != "" {
				fmt.Print(event.Completed.Message.Content)
			}
			fmt.Println()
			return nil

		case rpc.ChatEventError:
			return fmt.Errorf("%s: %s", event.Error.Code, event.Error.Message)
		}
	}
}

// promptApproval asks y/n/q on the terminal for one tool call.
func promptApproval(stdin *bufio.Reader, call core.ToolCall) (core.Approval, error) {
	args := call.ArgumentsJSON()
	if args == "" {
		args = "{}"
	}
	fmt.Printf("\n%s run %s with %s? [y/n/q] ",
		colorize("33", "[approve]"), call.Function.Name, args)

	for {
		line, err := stdin.ReadString('\n')
		if err != nil {
			// EOF on stdin quits rather than approving blind.
			return core.Approval{Decision: core.ApprovalQuit}, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return core.Approval{Decision: core.ApprovalApproved}, nil
		case "n", "no":
			return core.Approval{Decision: core.ApprovalDenied, Reason: "denied by user"}, nil
		case "q", "quit":
			return core.Approval{Decision: core.ApprovalQuit}, nil
		default:
			fmt.Print("please answer y, n, or q: ")
		}
	}
}
