// Package cmd implements the livecache CLI using cobra, mirroring the
// teacher's cmd package: a package-level rootCmd, SetVersion/Execute
// entrypoints, and one file per subcommand.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/livecache/internal/logging"
)

var (
	versionStr string
	logLevel   string
	logFile    string
)

// SetVersion sets the version string and enables the --version flag.
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "livecache",
	Short: "Drive and inspect a live query cache engine",
	Long: `livecache is the reference CLI for the live query cache engine: an
optimistic, event-reconciling client cache that sits between a UI and a
query executor / realtime transport.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Setup(logLevel, logFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
