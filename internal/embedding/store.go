package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// upsertSQL enforces the one-row-per-entity invariant: a re-embed replaces
// the previous vector and content rather than appending.
const upsertSQL = `INSERT INTO embeddings (tenant_id, entity_type, entity_id, content, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET content = EXCLUDED.content,
	              metadata = EXCLUDED.metadata,
	              embedding = EXCLUDED.embedding,
	              updated_at = now()`

const searchSQL = `SELECT entity_id, entity_type, content, metadata, embedding <=> $1 AS distance
	FROM embeddings
	WHERE tenant_id = $2
	ORDER BY distance
	LIMIT $3`

const invalidateSQL = `DELETE FROM embeddings
	WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`

const countSQL = `SELECT COUNT(*) FROM embeddings WHERE tenant_id = $1`

// Record is one persisted embedding row.
type Record struct {
	TenantID   uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	Content    string
	Metadata   map[string]any
	Vector     pgvector.Vector
}

// Match is a single similarity-search result, nearest first.
type Match struct {
	EntityID   uuid.UUID
	EntityType string
	Content    string
	Metadata   map[string]any
	Distance   float32
}

// Store persists embedding vectors and serves tenant-scoped similarity
// search backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates an embedding Store. The embedder is only required for
// SearchText; passing nil is fine for write-only use.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// Upsert writes the embedding for an entity, replacing any prior vector
// for the same (tenant, entity_type, entity_id) key.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}
	if rec.EntityID == uuid.Nil {
		return fmt.Errorf("entity id is required")
	}

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, upsertSQL,
		rec.TenantID, rec.EntityType, rec.EntityID, rec.Content, metadataJSON, rec.Vector)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s/%s: %w", rec.EntityType, rec.EntityID, err)
	}

	s.logger.Debug("embedding upserted",
		"tenant_id", rec.TenantID, "entity_type", rec.EntityType, "entity_id", rec.EntityID,
		"content_length", len(rec.Content))
	return nil
}

// Search returns up to topK embeddings nearest to queryVec by cosine
// distance, restricted to the given tenant, ordered nearest first.
func (s *Store) Search(ctx context.Context, tenantID uuid.UUID, queryVec pgvector.Vector, topK int) ([]Match, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be at least 1, got %d", topK)
	}

	rows, err := s.pool.Query(ctx, searchSQL, queryVec, tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metadataJSON []byte
		if err := rows.Scan(&m.EntityID, &m.EntityType, &m.Content, &metadataJSON, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			s.logger.Warn("failed to parse embedding metadata", "entity_id", m.EntityID, "error", err)
			m.Metadata = map[string]any{}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return matches, nil
}

// SearchText embeds the query text and searches with the resulting vector.
// This is the chat-time retrieval entry point.
func (s *Store) SearchText(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]Match, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("store has no embedder configured")
	}
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	vec, err := Embed(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.Search(ctx, tenantID, vec, topK)
}

// Invalidate removes the embedding row for an entity so a stale vector is
// never served between a content change and the next successful re-embed.
func (s *Store) Invalidate(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) error {
	return s.invalidate(ctx, s.pool, tenantID, entityType, entityID)
}

// InvalidateTx is Invalidate within the caller's transaction, used by
// entity writes so invalidation commits atomically with the change.
func (s *Store) InvalidateTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, entityType string, entityID uuid.UUID) error {
	return s.invalidate(ctx, tx, tenantID, entityType, entityID)
}

func (s *Store) invalidate(ctx context.Context, db querier, tenantID uuid.UUID, entityType string, entityID uuid.UUID) error {
	tag, err := db.Exec(ctx, invalidateSQL, tenantID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to invalidate embedding for %s/%s: %w", entityType, entityID, err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Debug("embedding invalidated",
			"tenant_id", tenantID, "entity_type", entityType, "entity_id", entityID)
	}
	return nil
}

// Count returns the number of embeddings stored for a tenant.
func (s *Store) Count(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countSQL, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// Embed generates a vector for text with the pipeline's fixed dimension.
func Embed(ctx context.Context, embedder ai.Embedder, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	vec := resp.Embeddings[0].Embedding
	if len(vec) != int(VectorDimension) {
		return pgvector.Vector{}, fmt.Errorf("embedder returned %d dimensions, want %d", len(vec), VectorDimension)
	}
	return pgvector.NewVector(vec), nil
}
