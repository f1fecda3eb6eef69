// Package cmd implements the roadkit command-line interface.
//
// Commands:
//   - serve: run the API server with the embedding pipeline scheduler
//   - worker: run the embedding pipeline without the API server
//   - drain: run one drain cycle and exit
//   - migrate: apply pending database migrations
//   - purge: empty the embedding queue
//   - version: show version information
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roadkit/roadkit/internal/log"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "roadkit",
	Short: "Roadkit - product management backend with semantic search",
	Long: `Roadkit is a multi-tenant product-management backend.

Entity writes (features, releases) automatically keep a vector index in
sync: content changes enqueue embedding jobs, a scheduler drains the
queue, and tenants get similarity search over their own data.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// newLogger builds the process logger. Debug level is enabled by the
// --debug flag or the DEBUG environment variable.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugFlag || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
