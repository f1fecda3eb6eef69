package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roadkit/roadkit/internal/app"
	"github.com/roadkit/roadkit/internal/config"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one drain cycle and exit",
	Long: `Lease one batch from the embedding queue, process it, and print the
number of jobs embedded.

The drain shares its implementation with the scheduler, so manual drains
are safe while a server or worker is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDrain(cmd)
	},
}

func init() {
	rootCmd.AddCommand(drainCmd)
}

func runDrain(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	n, err := a.Drainer.DrainOnce(ctx)
	if err != nil {
		return fmt.Errorf("draining queue: %w", err)
	}

	cmd.Printf("Processed %d job(s) from queue %q\n", n, cfg.QueueName)
	return nil
}
