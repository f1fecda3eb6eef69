package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/roadkit/roadkit/internal/config"
	"github.com/roadkit/roadkit/internal/queue"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all pending messages from the embedding queue",
	Long: `Remove all pending messages from the embedding queue.

Dead letters are kept; use SQL on queue_dead_letters to inspect or
clear quarantined messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPurge(cmd)
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

// runPurge connects directly without the full app: no embedder needed.
func runPurge(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	q, err := queue.New(pool, newLogger())
	if err != nil {
		return err
	}

	n, err := q.Purge(ctx, cfg.QueueName)
	if err != nil {
		return fmt.Errorf("purging queue: %w", err)
	}

	cmd.Printf("Removed %d message(s) from queue %q\n", n, cfg.QueueName)
	return nil
}
