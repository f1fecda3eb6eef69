package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roadkit/roadkit/internal/app"
	"github.com/roadkit/roadkit/internal/config"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the embedding pipeline without the API server",
	Long: `Run the drain scheduler as a standalone process.

Useful for scaling the pipeline independently of the API: multiple
workers can drain the same queue safely thanks to message leasing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting roadkit worker", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	logger.Info("drain scheduler started",
		"queue", cfg.QueueName, "interval", cfg.DrainInterval,
		"batch_size", cfg.BatchSize, "visibility_timeout", cfg.VisibilityTimeout)

	a.Scheduler.Run(ctx)
	return nil
}
