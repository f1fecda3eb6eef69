package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/roadkit/roadkit/internal/embedding"
	"github.com/roadkit/roadkit/internal/log"
)

// Search validation constants.
const (
	MaxQueryLength = 10000
	DefaultTopK    = 10
	MaxTopK        = 100
)

// searcher is the slice of embedding.Store the handler needs.
type searcher interface {
	SearchText(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]embedding.Match, error)
}

// SearchHandler serves tenant-scoped similarity search.
type SearchHandler struct {
	store  searcher
	logger log.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(store searcher, logger log.Logger) *SearchHandler {
	return &SearchHandler{store: store, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
}

// SearchRequest is the request body for similarity search.
type SearchRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
}

// SearchMatch is one similarity result.
type SearchMatch struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Distance   float32        `json:"distance"`
}

// SearchResponse is the response body for similarity search.
type SearchResponse struct {
	Matches []SearchMatch `json:"matches"`
	Total   int           `json:"total"`
}

// search embeds the query and returns the tenant's nearest entities.
func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("embedding store is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil || tenantID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant", "tenant_id must be a valid UUID")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "query must not be empty")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_query", "query too long (max 10000 characters)")
		return
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}

	matches, err := h.store.SearchText(r.Context(), tenantID, req.Query, req.TopK)
	if err != nil {
		h.logger.Error("search failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to execute search")
		return
	}

	resp := SearchResponse{Matches: make([]SearchMatch, 0, len(matches)), Total: len(matches)}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, SearchMatch{
			EntityID:   m.EntityID.String(),
			EntityType: m.EntityType,
			Content:    m.Content,
			Metadata:   m.Metadata,
			Distance:   m.Distance,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
