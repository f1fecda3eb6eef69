package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadkit/roadkit/db"
	"github.com/roadkit/roadkit/internal/config"
	"github.com/roadkit/roadkit/internal/embedding"
	"github.com/roadkit/roadkit/internal/log"
	"github.com/roadkit/roadkit/internal/observability"
	"github.com/roadkit/roadkit/internal/product"
	"github.com/roadkit/roadkit/internal/queue"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, embedder, err := provideEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Queue, err = queue.New(pool, logger)
	if err != nil {
		return nil, err
	}

	a.Embeddings, err = embedding.NewStore(pool, embedder, logger)
	if err != nil {
		return nil, err
	}

	a.Worker, err = embedding.NewWorker(a.Embeddings, embedder, logger,
		embedding.WithRateLimit(cfg.EmbedRatePerSecond))
	if err != nil {
		return nil, err
	}

	a.Drainer, err = embedding.NewDrainer(a.Queue, a.Worker, embedding.DrainConfig{
		QueueName:         cfg.QueueName,
		BatchSize:         cfg.BatchSize,
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxReadCount:      cfg.MaxReadCount,
		Concurrency:       cfg.DrainConcurrency,
	}, logger)
	if err != nil {
		return nil, err
	}

	a.Scheduler = embedding.NewScheduler(a.Drainer, cfg.DrainInterval, logger)

	a.Products, err = product.NewStore(pool, a.Queue, a.Embeddings, cfg.QueueName, logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing when enabled.
// Returns a no-op cleanup when tracing is disabled or setup fails.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.TracingEnabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: cfg.TracingService,
		Environment: cfg.TracingEnv,
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without tracing", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideEmbedder initializes Genkit with the Gemini plugin and looks up
// the configured embedder. GEMINI_API_KEY is read by the plugin itself.
func provideEmbedder(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
		return nil, nil, fmt.Errorf("%w: set GEMINI_API_KEY", config.ErrMissingAPIKey)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, nil, errors.New("initializing genkit with gemini provider")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	return g, embedder, nil
}
