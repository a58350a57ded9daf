package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func buildReplCmd() *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			reader := bufio.NewReader(os.Stdin)
			fmt.Println("neuromance repl. Empty lines are ignored; 'exit' or Ctrl-D quits.")

			for {
				fmt.Print(colorize("36", "> "))
				line, err := reader.ReadString('\n')
				if err != nil {
					if err == io.EOF {
						fmt.Println()
						return nil
					}
					return err
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				if err := runChat(cmd.Context(), conn, conversation, line); err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Conversation reference")
	return cmd
}
