package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuromance/neuromance/internal/rpc"
)

func buildSendCmd() *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to the active conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return runChat(cmd.Context(), conn, conversation, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "",
		"Conversation id, bookmark, or short hash (default: active conversation)")
	return cmd
}

func buildNewCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and make it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			info, err := conn.RPC.CreateConversation(cmd.Context(), &rpc.CreateConversationRequest{Title: title})
			if err != nil {
				return err
			}
			fmt.Println(info.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Conversation title")
	return cmd
}

func buildLogCmd() *cobra.Command {
	var (
		conversation string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent messages of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := conn.RPC.ListMessages(cmd.Context(), &rpc.ListMessagesRequest{
				ConversationID: conversation,
				Limit:          limit,
			})
			if err != nil {
				return err
			}
			// The daemon answers most-recent-first; read top-down.
			for i := len(resp.Messages) - 1; i >= 0; i-- {
				msg := resp.Messages[i]
				fmt.Printf("%s %s: %s\n",
					msg.CreatedAt.Local().Format("15:04"),
					colorRole(string(msg.Role)),
					msg.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Conversation reference")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum messages to show")
	return cmd
}

func buildListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := conn.RPC.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			for _, conv := range resp.Conversations {
				marker := " "
				if conv.Active {
					marker = "*"
				}
				title := conv.Title
				if title == "" {
					title = "(untitled)"
				}
				extra := ""
				if len(conv.Bookmarks) > 0 {
					extra = " [" + strings.Join(conv.Bookmarks, ", ") + "]"
				}
				fmt.Printf("%s %s  %-40s %3d msgs  %s%s\n",
					marker, shortID(conv.ID), title, conv.MessageCount,
					conv.UpdatedAt.Local().Format("2006-01-02 15:04"), extra)
			}
			return nil
		},
	}
}

func buildBookmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmark",
		Short: "Manage conversation bookmarks",
	}

	set := &cobra.Command{
		Use:   "set <name> <conversation>",
		Short: "Bookmark a conversation under a name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.RPC.SetBookmark(cmd.Context(), &rpc.SetBookmarkRequest{
				Name:           args[0],
				ConversationID: args[1],
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.RPC.RemoveBookmark(cmd.Context(), &rpc.RemoveBookmarkRequest{Name: args[0]})
		},
	}

	cmd.AddCommand(set, rm)
	return cmd
}

func buildDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation>",
		Short: "Delete a conversation and its bookmarks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.RPC.DeleteConversation(cmd.Context(), &rpc.DeleteConversationRequest{
				ConversationID: args[0],
			})
		},
	}
}

func buildModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect and switch models",
	}

	var conversation string
	switchCmd := &cobra.Command{
		Use:   "switch <nickname>",
		Short: "Switch the conversation to another configured model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.RPC.SwitchModel(cmd.Context(), &rpc.SwitchModelRequest{
				ConversationID: conversation,
				Model:          args[0],
			})
		},
	}
	switchCmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Conversation reference")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := conn.RPC.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range resp.Models {
				marker := " "
				if m.Default {
					marker = "*"
				}
				fmt.Printf("%s %-12s %s/%s\n", marker, m.Nickname, m.Provider, m.Model)
			}
			return nil
		},
	}

	cmd.AddCommand(switchCmd, listCmd)
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			if !detailed {
				st, err := conn.RPC.GetStatus(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("daemon %s (pid %d), up %s\n",
					st.Version, st.PID, (time.Duration(st.UptimeSeconds) * time.Second).String())
				if st.ActiveConversation != "" {
					fmt.Printf("active conversation: %s\n", shortID(st.ActiveConversation))
				}
				return nil
			}

			st, err := conn.RPC.GetDetailedStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("daemon %s (pid %d), up %s\n",
				st.Version, st.PID, (time.Duration(st.UptimeSeconds) * time.Second).String())
			if st.ActiveConversation != "" {
				fmt.Printf("active conversation: %s\n", shortID(st.ActiveConversation))
			}
			fmt.Printf("conversations:     %d\n", st.Conversations)
			fmt.Printf("cached clients:    %d\n", st.CachedClients)
			fmt.Printf("pending approvals: %d\n", st.PendingApprovals)
			fmt.Printf("last activity:     %s\n", st.LastActivity.Local().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&detailed, "detailed", "d", false, "Show detailed status")
	return cmd
}

func buildShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.RPC.Shutdown(cmd.Context())
		},
	}
}

func shortID(id string) string {
	stripped := strings.ReplaceAll(id, "-", "")
	if len(stripped) > 8 {
		return stripped[:8]
	}
	return stripped
}
