// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles the embedding pipeline: database
// pool, queue, embedder, vector store, worker, drainer, scheduler, and
// the entity store that feeds them.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadkit/roadkit/internal/config"
	"github.com/roadkit/roadkit/internal/embedding"
	"github.com/roadkit/roadkit/internal/log"
	"github.com/roadkit/roadkit/internal/product"
	"github.com/roadkit/roadkit/internal/queue"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Pipeline components
	Queue      *queue.Queue
	Embeddings *embedding.Store
	Worker     *embedding.Worker
	Drainer    *embedding.Drainer
	Scheduler  *embedding.Scheduler

	// Entity store (drives the pipeline from the write path)
	Products *product.Store

	// Lifecycle management
	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
