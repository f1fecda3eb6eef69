package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roadkit/roadkit/api"
	"github.com/roadkit/roadkit/internal/app"
	"github.com/roadkit/roadkit/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the embedding pipeline scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe starts the HTTP API and the drain scheduler in one process.
// Both stop on SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting roadkit", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("drain scheduler started",
			"queue", cfg.QueueName, "interval", cfg.DrainInterval)
		a.Scheduler.Run(ctx)
	}()

	addr := serveAddr
	if addr == "" {
		addr = cfg.APIAddr
	}

	server := api.NewServer(a.DBPool, a.Embeddings, a.Queue, cfg.QueueName, a.Drainer, logger)
	err = server.Run(ctx, addr)

	cancel()
	wg.Wait()
	return err
}
