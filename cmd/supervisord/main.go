// Command supervisord wires the Supervisor, its collaborators, and the
// WebSocket/SSE transports into a runnable HTTP process. Grounded on the
// teacher's own cmd/ tree layout (one cobra root command plus flag-bound
// subcommands, e.g. cmd/demo's "wire everything then run" shape) and on
// vanducng-goclaw's cmd/root.go for the cobra command/flag idiom itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "supervisord",
	Short: "Multi-agent orchestration runtime",
	Long:  "supervisord runs the five-phase Supervisor state machine behind WebSocket and SSE transports.",
}

func main() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("supervisord", version)
		},
	}
}
