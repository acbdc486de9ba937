package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/zjrosen/timeline/internal/viewer"
)

var addrFlag string

// openURL opens the viewer link. It can be overridden in tests.
var openURL = viewer.OpenBrowser

var openCmd = &cobra.Command{
	Use:   "open <trace.json>",
	Short: "Open a trace in the Perfetto UI",
	Long: `Open a recorded trace in the Perfetto UI (ui.perfetto.dev).

The trace is served once from a local HTTP server and the UI is opened
with a link to it. The command exits after the UI has fetched the trace.

Examples:
  timeline open load.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().StringVar(&addrFlag, "addr", viewer.DefaultAddr, "address to serve the trace from")
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	printInfo("Waiting for the Perfetto UI to load the trace. Press Ctrl+C to cancel.")
	return viewer.Serve(ctx, addrFlag, args[0], openURL)
}
