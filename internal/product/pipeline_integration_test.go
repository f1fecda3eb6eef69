//go:build integration

package product

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadkit/roadkit/internal/embedding"
	"github.com/roadkit/roadkit/internal/log"
	"github.com/roadkit/roadkit/internal/queue"
	"github.com/roadkit/roadkit/internal/testutil"
)

// TestPipelineEndToEnd drives the full path a feature write takes: entity
// insert enqueues a job, a drain embeds it, and the vector becomes
// searchable for its tenant.
func TestPipelineEndToEnd(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	logger := log.NewNop()

	q, err := queue.New(db.Pool, logger)
	require.NoError(t, err)

	embedder := testutil.NewFakeEmbedder()
	embStore, err := embedding.NewStore(db.Pool, embedder, logger)
	require.NoError(t, err)

	store, err := NewStore(db.Pool, q, embStore, testQueueName, logger)
	require.NoError(t, err)

	worker, err := embedding.NewWorker(embStore, embedder, logger)
	require.NoError(t, err)

	drainer, err := embedding.NewDrainer(q, worker, embedding.DrainConfig{
		QueueName:         testQueueName,
		BatchSize:         10,
		VisibilityTimeout: time.Minute,
	}, logger)
	require.NoError(t, err)

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{
		TenantID:       tenantID,
		Name:           "Payment Processing",
		Description:    "Stripe integration for payments",
		Priority:       "High",
		WorkflowStatus: "In Progress",
	}
	require.NoError(t, store.CreateFeature(ctx, f))

	processed, err := drainer.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	pending, err := q.Len(ctx, testQueueName)
	require.NoError(t, err)
	assert.Zero(t, pending, "processed job must be acknowledged")

	count, err := embStore.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	matches, err := embStore.SearchText(ctx, tenantID, "Stripe payments", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, f.ID, matches[0].EntityID)
	assert.Equal(t, "features", matches[0].EntityType)
	assert.Contains(t, matches[0].Content, "Feature: Payment Processing")
	assert.Contains(t, matches[0].Content, "Description: Stripe integration for payments")
	assert.Equal(t, "Payment Processing", matches[0].Metadata["name"])
	assert.Equal(t, "High", matches[0].Metadata["priority"])
}

// TestPipelineUpdateReembeds verifies the change-then-drain cycle replaces
// the entity's vector rather than duplicating it, and that a stale vector
// is not served between invalidation and re-embed.
func TestPipelineUpdateReembeds(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	logger := log.NewNop()

	q, err := queue.New(db.Pool, logger)
	require.NoError(t, err)
	embedder := testutil.NewFakeEmbedder()
	embStore, err := embedding.NewStore(db.Pool, embedder, logger)
	require.NoError(t, err)
	store, err := NewStore(db.Pool, q, embStore, testQueueName, logger)
	require.NoError(t, err)
	worker, err := embedding.NewWorker(embStore, embedder, logger)
	require.NoError(t, err)
	drainer, err := embedding.NewDrainer(q, worker, embedding.DrainConfig{
		QueueName: testQueueName,
	}, logger)
	require.NoError(t, err)

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{TenantID: tenantID, Name: "Checkout", Description: "Stripe checkout"}
	require.NoError(t, store.CreateFeature(ctx, f))
	_, err = drainer.DrainOnce(ctx)
	require.NoError(t, err)

	updated := *f
	updated.Description = "Adyen checkout"
	require.NoError(t, store.UpdateFeature(ctx, &updated))

	// Window between invalidation and re-embed: the stale vector is gone,
	// search degrades to no result instead of serving outdated content.
	count, err := embStore.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, count)

	processed, err := drainer.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	matches, err := embStore.SearchText(ctx, tenantID, "checkout", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Content, "Adyen checkout")
	assert.NotContains(t, matches[0].Content, "Stripe")
}
