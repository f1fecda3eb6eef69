package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"
)

// vectorUpserter is the slice of Store the worker needs.
// Consumer-side interface keeps the worker testable without a database.
type vectorUpserter interface {
	Upsert(ctx context.Context, rec Record) error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRateLimit caps embedding API calls at rps requests per second.
// A zero or negative rps disables limiting.
func WithRateLimit(rps float64) WorkerOption {
	return func(w *Worker) {
		if rps > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			w.limiter = nil
		}
	}
}

// WithRetryBudget bounds the total time spent retrying a transient
// embedding API failure within one Process call. The budget must stay
// well inside the queue's visibility timeout so a failed job is either
// persisted or released before its lease can expire.
func WithRetryBudget(d time.Duration) WorkerOption {
	return func(w *Worker) { w.retryBudget = d }
}

// Worker turns one job's content into a vector and persists it.
//
// Failure contract: terminal errors (ErrEmptyContent, ErrInvalidJob)
// propagate unwrapped for the drainer to quarantine; transient failures
// (API rate limit, timeout, store outage) are retried briefly and then
// returned, leaving the job leased for a later retry. A partial or
// corrupt embedding is never persisted.
type Worker struct {
	store       vectorUpserter
	embedder    ai.Embedder
	limiter     *rate.Limiter
	retryBudget time.Duration
	logger      *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(store vectorUpserter, embedder ai.Embedder, logger *slog.Logger, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		store:       store,
		embedder:    embedder,
		retryBudget: 15 * time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Process validates the job, embeds its content, and upserts the vector
// keyed by (tenant, entity_type, entity_id).
func (w *Worker) Process(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	vec, err := w.embedWithRetry(ctx, job.Content)
	if err != nil {
		return fmt.Errorf("failed to embed %s/%s: %w", job.EntityType, job.EntityID, err)
	}

	rec := Record{
		TenantID:   job.TenantID,
		EntityType: job.EntityType,
		EntityID:   job.EntityID,
		Content:    job.Content,
		Metadata:   job.Metadata,
		Vector:     vec,
	}
	if err := w.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to store embedding for %s/%s: %w", job.EntityType, job.EntityID, err)
	}

	w.logger.Debug("job embedded",
		"tenant_id", job.TenantID, "entity_type", job.EntityType, "entity_id", job.EntityID)
	return nil
}

// embedWithRetry retries transient embedding API failures with capped
// exponential backoff until the retry budget is exhausted.
func (w *Worker) embedWithRetry(ctx context.Context, content string) (vec pgvector.Vector, err error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = w.retryBudget

	attempt := 0
	op := func() error {
		attempt++
		v, embedErr := Embed(ctx, w.embedder, content)
		if embedErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(embedErr)
			}
			w.logger.Warn("embedding attempt failed", "attempt", attempt, "error", embedErr)
			return embedErr
		}
		vec = v
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return vec, err
	}
	return vec, nil
}
