package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roadkit/roadkit/internal/queue"
)

// jobQueue is the slice of queue.Queue the drainer needs.
type jobQueue interface {
	Read(ctx context.Context, queue string, vt time.Duration, qty int) ([]queue.Message, error)
	Delete(ctx context.Context, queue string, msgID int64) (bool, error)
	Archive(ctx context.Context, queue string, msgID int64, reason string) (bool, error)
}

// processor handles one decoded job.
type processor interface {
	Process(ctx context.Context, job Job) error
}

// DrainConfig tunes a Drainer.
type DrainConfig struct {
	// QueueName is the queue to drain.
	QueueName string

	// BatchSize bounds how many messages one DrainOnce call leases.
	BatchSize int

	// VisibilityTimeout is the lease duration for read messages; it is the
	// de facto timeout for a stuck worker.
	VisibilityTimeout time.Duration

	// MaxReadCount quarantines a message to the dead-letter table once its
	// delivery count exceeds this threshold.
	MaxReadCount int

	// Concurrency bounds how many jobs are processed in parallel.
	Concurrency int
}

// Drainer reads a bounded batch from the queue and dispatches each message
// to the worker, acknowledging successes and quarantining poison messages.
//
// DrainOnce is safe to invoke concurrently (overlapping scheduler ticks):
// the queue's lease mechanism partitions messages between invocations, so
// total processed never exceeds total enqueued beyond at-least-once
// redelivery after lease expiry.
type Drainer struct {
	queue  jobQueue
	proc   processor
	cfg    DrainConfig
	logger *slog.Logger
}

// NewDrainer creates a Drainer.
func NewDrainer(q jobQueue, proc processor, cfg DrainConfig, logger *slog.Logger) (*Drainer, error) {
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = time.Minute
	}
	if cfg.MaxReadCount < 1 {
		cfg.MaxReadCount = 5
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{queue: q, proc: proc, cfg: cfg, logger: logger}, nil
}

// DrainOnce leases one batch and processes it, returning the number of
// jobs successfully processed. An empty queue returns 0 without error.
//
// Per-job failures are isolated: they are logged and counted but never
// abort the rest of the batch. The returned error reflects only
// infrastructure failures (the queue itself being unreachable).
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := d.queue.Read(ctx, d.cfg.QueueName, d.cfg.VisibilityTimeout, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue %q: %w", d.cfg.QueueName, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	processed := make([]bool, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, msg := range msgs {
		g.Go(func() error {
			processed[i] = d.handle(gctx, msg)
			return nil
		})
	}
	// Worker errors are captured per message, not propagated.
	_ = g.Wait()

	count := 0
	for _, ok := range processed {
		if ok {
			count++
		}
	}

	d.logger.Info("queue drained", "queue", d.cfg.QueueName,
		"leased", len(msgs), "processed", count, "failed", len(msgs)-count)
	return count, nil
}

// handle processes one message and settles it with the queue.
// Returns true only when the job succeeded and was acknowledged.
func (d *Drainer) handle(ctx context.Context, msg queue.Message) bool {
	job, err := UnmarshalJob(msg.Payload)
	if err == nil {
		err = d.proc.Process(ctx, job)
	}

	if err == nil {
		if _, delErr := d.queue.Delete(ctx, d.cfg.QueueName, msg.ID); delErr != nil {
			// The job succeeded but the ack failed; the message will be
			// redelivered after its lease expires. At-least-once applies
			// and the store upsert makes the redelivery idempotent.
			d.logger.Warn("failed to acknowledge processed message",
				"queue", d.cfg.QueueName, "msg_id", msg.ID, "error", delErr)
			return false
		}
		return true
	}

	switch {
	case IsTerminal(err):
		d.logger.Error("terminal job failure, quarantining",
			"queue", d.cfg.QueueName, "msg_id", msg.ID, "error", err)
		d.archive(ctx, msg, err.Error())
	case int(msg.ReadCount) > d.cfg.MaxReadCount:
		d.logger.Error("job exceeded retry budget, quarantining",
			"queue", d.cfg.QueueName, "msg_id", msg.ID,
			"read_count", msg.ReadCount, "error", err)
		d.archive(ctx, msg, fmt.Sprintf("exceeded %d deliveries: %v", d.cfg.MaxReadCount, err))
	default:
		// Transient: leave the message leased; it becomes visible again
		// after the visibility timeout and will be retried.
		d.logger.Warn("job failed, leaving for retry",
			"queue", d.cfg.QueueName, "msg_id", msg.ID,
			"read_count", msg.ReadCount, "error", err)
	}
	return false
}

func (d *Drainer) archive(ctx context.Context, msg queue.Message, reason string) {
	if _, err := d.queue.Archive(ctx, d.cfg.QueueName, msg.ID, reason); err != nil {
		d.logger.Error("failed to quarantine message",
			"queue", d.cfg.QueueName, "msg_id", msg.ID, "error", err)
	}
}
