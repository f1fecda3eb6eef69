package product

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadkit/roadkit/internal/embedding"
	"github.com/roadkit/roadkit/internal/queue"
)

const featureCols = `id, tenant_id, name, description, priority, workflow_status,
	start_date, end_date, created_at, updated_at`

const insertFeatureSQL = `INSERT INTO features
	(tenant_id, name, description, priority, workflow_status, start_date, end_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at, updated_at`

const selectFeatureForUpdateSQL = `SELECT ` + featureCols + `
	FROM features WHERE tenant_id = $1 AND id = $2 FOR UPDATE`

const updateFeatureSQL = `UPDATE features
	SET name = $3, description = $4, priority = $5, workflow_status = $6,
	    start_date = $7, end_date = $8, updated_at = now()
	WHERE tenant_id = $1 AND id = $2
	RETURNING updated_at`

const deleteFeatureSQL = `DELETE FROM features WHERE tenant_id = $1 AND id = $2`

const touchFeatureSQL = `UPDATE features SET updated_at = now()
	WHERE tenant_id = $1 AND id = $2`

const getFeatureSQL = `SELECT ` + featureCols + `
	FROM features WHERE tenant_id = $1 AND id = $2`

const releaseCols = `id, tenant_id, name, description, status, release_date, created_at, updated_at`

const insertReleaseSQL = `INSERT INTO releases
	(tenant_id, name, description, status, release_date)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at, updated_at`

const selectReleaseForUpdateSQL = `SELECT ` + releaseCols + `
	FROM releases WHERE tenant_id = $1 AND id = $2 FOR UPDATE`

const updateReleaseSQL = `UPDATE releases
	SET name = $3, description = $4, status = $5, release_date = $6, updated_at = now()
	WHERE tenant_id = $1 AND id = $2
	RETURNING updated_at`

const deleteReleaseSQL = `DELETE FROM releases WHERE tenant_id = $1 AND id = $2`

const getReleaseSQL = `SELECT ` + releaseCols + `
	FROM releases WHERE tenant_id = $1 AND id = $2`

// Store persists product entities and drives the embedding pipeline from
// the entity-write path: every write runs change detection and, when
// content changed, enqueues an embedding job and invalidates the stale
// vector inside the same transaction.
//
// Enqueue failures abort the entity write (fail loud); a committed entity
// change therefore always has its job durably queued.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool       *pgxpool.Pool
	queue      *queue.Queue
	embeddings *embedding.Store
	queueName  string
	logger     *slog.Logger
}

// NewStore creates a product Store.
func NewStore(pool *pgxpool.Pool, q *queue.Queue, embeddings *embedding.Store, queueName string, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if embeddings == nil {
		return nil, fmt.Errorf("embedding store is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:       pool,
		queue:      q,
		embeddings: embeddings,
		queueName:  queueName,
		logger:     logger,
	}, nil
}

// inTx runs fn inside a transaction with commit/rollback handling.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// enqueueTx builds the embedding job for an entity version and sends it
// within the write transaction.
func (s *Store) enqueueTx(ctx context.Context, tx pgx.Tx, job embedding.Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.queue.SendTx(ctx, tx, s.queueName, payload); err != nil {
		return fmt.Errorf("failed to enqueue embedding job for %s/%s: %w",
			job.EntityType, job.EntityID, err)
	}
	return nil
}

// CreateFeature inserts a feature and enqueues its first embedding job.
func (s *Store) CreateFeature(ctx context.Context, f *Feature) error {
	if f.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("feature name is required")
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertFeatureSQL,
			f.TenantID, f.Name, f.Description, f.Priority, f.WorkflowStatus,
			f.StartDate, f.EndDate).
			Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert feature: %w", err)
		}

		return s.enqueueTx(ctx, tx, embedding.Job{
			EntityType: string(EntityTypeFeature),
			EntityID:   f.ID,
			TenantID:   f.TenantID,
			Content:    RenderFeature(f),
			Metadata:   FeatureMetadata(f),
		})
	})
}

// UpdateFeature writes new field values for a feature. If any
// content-relevant field changed, the stale embedding is invalidated and
// a fresh job enqueued in the same transaction; an update that changes
// nothing embeddable is a plain row update with no pipeline side effects.
func (s *Store) UpdateFeature(ctx context.Context, f *Feature) error {
	if f.TenantID == uuid.Nil || f.ID == uuid.Nil {
		return fmt.Errorf("tenant id and feature id are required")
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		old, err := scanFeature(tx.QueryRow(ctx, selectFeatureForUpdateSQL, f.TenantID, f.ID))
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, updateFeatureSQL,
			f.TenantID, f.ID, f.Name, f.Description, f.Priority, f.WorkflowStatus,
			f.StartDate, f.EndDate).
			Scan(&f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update feature %s: %w", f.ID, err)
		}

		if !FeatureChanged(old, f) {
			s.logger.Debug("feature update without content change, skipping re-embed",
				"tenant_id", f.TenantID, "feature_id", f.ID)
			return nil
		}

		// Clear the stale vector before the entity change becomes visible
		// so search never serves outdated content for this feature.
		if err := s.embeddings.InvalidateTx(ctx, tx, f.TenantID, string(EntityTypeFeature), f.ID); err != nil {
			return err
		}

		return s.enqueueTx(ctx, tx, embedding.Job{
			EntityType: string(EntityTypeFeature),
			EntityID:   f.ID,
			TenantID:   f.TenantID,
			Content:    RenderFeature(f),
			Metadata:   FeatureMetadata(f),
		})
	})
}

// TouchFeature bumps a feature's updated_at without content change.
// By construction this administrative write never enqueues a job.
func (s *Store) TouchFeature(ctx context.Context, tenantID, featureID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, touchFeatureSQL, tenantID, featureID)
	if err != nil {
		return fmt.Errorf("failed to touch feature %s: %w", featureID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFeature removes a feature and its embedding.
func (s *Store) DeleteFeature(ctx context.Context, tenantID, featureID uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteFeatureSQL, tenantID, featureID)
		if err != nil {
			return fmt.Errorf("failed to delete feature %s: %w", featureID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.embeddings.InvalidateTx(ctx, tx, tenantID, string(EntityTypeFeature), featureID)
	})
}

// GetFeature fetches a feature scoped to its tenant.
func (s *Store) GetFeature(ctx context.Context, tenantID, featureID uuid.UUID) (*Feature, error) {
	return scanFeature(s.pool.QueryRow(ctx, getFeatureSQL, tenantID, featureID))
}

func scanFeature(row pgx.Row) (*Feature, error) {
	var f Feature
	err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.Description, &f.Priority,
		&f.WorkflowStatus, &f.StartDate, &f.EndDate, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feature: %w", err)
	}
	return &f, nil
}

// CreateRelease inserts a release and enqueues its first embedding job.
func (s *Store) CreateRelease(ctx context.Context, r *Release) error {
	if r.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("release name is required")
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertReleaseSQL,
			r.TenantID, r.Name, r.Description, r.Status, r.ReleaseDate).
			Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert release: %w", err)
		}

		return s.enqueueTx(ctx, tx, embedding.Job{
			EntityType: string(EntityTypeRelease),
			EntityID:   r.ID,
			TenantID:   r.TenantID,
			Content:    RenderRelease(r),
			Metadata:   ReleaseMetadata(r),
		})
	})
}

// UpdateRelease mirrors UpdateFeature for releases.
func (s *Store) UpdateRelease(ctx context.Context, r *Release) error {
	if r.TenantID == uuid.Nil || r.ID == uuid.Nil {
		return fmt.Errorf("tenant id and release id are required")
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		old, err := scanRelease(tx.QueryRow(ctx, selectReleaseForUpdateSQL, r.TenantID, r.ID))
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, updateReleaseSQL,
			r.TenantID, r.ID, r.Name, r.Description, r.Status, r.ReleaseDate).
			Scan(&r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update release %s: %w", r.ID, err)
		}

		if !ReleaseChanged(old, r) {
			return nil
		}

		if err := s.embeddings.InvalidateTx(ctx, tx, r.TenantID, string(EntityTypeRelease), r.ID); err != nil {
			return err
		}

		return s.enqueueTx(ctx, tx, embedding.Job{
			EntityType: string(EntityTypeRelease),
			EntityID:   r.ID,
			TenantID:   r.TenantID,
			Content:    RenderRelease(r),
			Metadata:   ReleaseMetadata(r),
		})
	})
}

// DeleteRelease removes a release and its embedding.
func (s *Store) DeleteRelease(ctx context.Context, tenantID, releaseID uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteReleaseSQL, tenantID, releaseID)
		if err != nil {
			return fmt.Errorf("failed to delete release %s: %w", releaseID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.embeddings.InvalidateTx(ctx, tx, tenantID, string(EntityTypeRelease), releaseID)
	})
}

// GetRelease fetches a release scoped to its tenant.
func (s *Store) GetRelease(ctx context.Context, tenantID, releaseID uuid.UUID) (*Release, error) {
	return scanRelease(s.pool.QueryRow(ctx, getReleaseSQL, tenantID, releaseID))
}

func scanRelease(row pgx.Row) (*Release, error) {
	var r Release
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.Status,
		&r.ReleaseDate, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan release: %w", err)
	}
	return &r, nil
}
