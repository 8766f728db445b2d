// oakci is the Codebase Intelligence daemon and its control CLI: it records
// agent activity, extracts long-lived observations, indexes the project for
// semantic search, and serves both over a local HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var errInterrupted = errors.New("interrupted")

func main() {
	root := &cobra.Command{
		Use:           "oakci",
		Short:         "Codebase intelligence daemon for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newSearchCmd(),
		newRememberCmd(),
		newFetchCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newHookCmd(),
		newVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errInterrupted) || errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
