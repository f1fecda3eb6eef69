package api

import (
	"context"
	"net/http"

	"github.com/roadkit/roadkit/internal/log"
)

// queueStats is the slice of queue.Queue the handler needs.
type queueStats interface {
	Len(ctx context.Context, queue string) (int64, error)
	DeadLetterCount(ctx context.Context, queue string) (int64, error)
}

// drainer triggers one drain cycle; satisfied by *embedding.Drainer.
type drainer interface {
	DrainOnce(ctx context.Context) (int, error)
}

// QueueHandler exposes queue depth and a manual drain trigger.
//
// The drain endpoint shares the scheduler's drain path, so an operator
// tick and a scheduled tick are interchangeable and safe to overlap.
type QueueHandler struct {
	queue     queueStats
	queueName string
	drainer   drainer
	logger    log.Logger
}

// NewQueueHandler creates a new queue handler. drainer may be nil when the
// process does not run the embedding pipeline.
func NewQueueHandler(q queueStats, queueName string, d drainer, logger log.Logger) *QueueHandler {
	return &QueueHandler{queue: q, queueName: queueName, drainer: d, logger: logger}
}

// RegisterRoutes registers queue routes on the given mux.
func (h *QueueHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/queue/stats", h.stats)
	mux.HandleFunc("POST /api/queue/drain", h.drain)
}

// QueueStatsResponse reports the queue's current depth.
type QueueStatsResponse struct {
	Queue       string `json:"queue"`
	Pending     int64  `json:"pending"`
	DeadLetters int64  `json:"dead_letters"`
}

// stats returns queue depth and dead-letter count.
func (h *QueueHandler) stats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		http.Error(w, "queue not configured", http.StatusServiceUnavailable)
		return
	}

	pending, err := h.queue.Len(r.Context(), h.queueName)
	if err != nil {
		h.logger.Error("failed to read queue depth", "queue", h.queueName, "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to read queue depth")
		return
	}

	dead, err := h.queue.DeadLetterCount(r.Context(), h.queueName)
	if err != nil {
		h.logger.Error("failed to read dead-letter count", "queue", h.queueName, "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to read dead-letter count")
		return
	}

	writeJSON(w, http.StatusOK, QueueStatsResponse{
		Queue:       h.queueName,
		Pending:     pending,
		DeadLetters: dead,
	})
}

// DrainResponse reports the outcome of a manual drain cycle.
type DrainResponse struct {
	Processed int `json:"processed"`
}

// drain runs one drain cycle synchronously and reports how many jobs were
// processed.
func (h *QueueHandler) drain(w http.ResponseWriter, r *http.Request) {
	if h.drainer == nil {
		http.Error(w, "pipeline not running in this process", http.StatusServiceUnavailable)
		return
	}

	n, err := h.drainer.DrainOnce(r.Context())
	if err != nil {
		h.logger.Error("manual drain failed", "queue", h.queueName, "error", err)
		writeError(w, http.StatusInternalServerError, "drain_failed", "failed to drain queue")
		return
	}

	writeJSON(w, http.StatusOK, DrainResponse{Processed: n})
}
