// Command neuromance is the CLI front end of the conversation daemon.
// It connects over the Unix socket, spawning the daemon when needed.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/neuromance/neuromance/internal/client"
)

func main() {
	_ = godotenv.Load()

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "neuromance",
		Short:         "Chat with language models through a local daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildSendCmd(),
		buildNewCmd(),
		buildLogCmd(),
		buildListCmd(),
		buildBookmarkCmd(),
		buildDeleteCmd(),
		buildModelCmd(),
		buildStatusCmd(),
		buildShutdownCmd(),
		buildReplCmd(),
	)
	return root
}

// connect dials the daemon, spawning it when absent.
func connect(ctx context.Context) (*client.Conn, error) {
	return client.Connect(ctx, client.Options{})
}
