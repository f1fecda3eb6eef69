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

const testQueueName = "embedding_jobs"

func setupStore(t *testing.T) (*Store, *queue.Queue, *testutil.TestDBContainer, func()) {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	logger := log.NewNop()

	q, err := queue.New(db.Pool, logger)
	require.NoError(t, err)

	embStore, err := embedding.NewStore(db.Pool, nil, logger)
	require.NoError(t, err)

	store, err := NewStore(db.Pool, q, embStore, testQueueName, logger)
	require.NoError(t, err)

	return store, q, db, cleanup
}

func readAllJobs(t *testing.T, q *queue.Queue) []embedding.Job {
	t.Helper()

	msgs, err := q.Read(context.Background(), testQueueName, time.Minute, 100)
	require.NoError(t, err)

	jobs := make([]embedding.Job, 0, len(msgs))
	for _, m := range msgs {
		job, err := embedding.UnmarshalJob(m.Payload)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

func TestCreateFeatureEnqueuesExactlyOneJob(t *testing.T) {
	store, q, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{
		TenantID:       tenantID,
		Name:           "Payment Processing",
		Description:    "Stripe integration for payments",
		Priority:       "High",
		WorkflowStatus: "In Progress",
	}
	require.NoError(t, store.CreateFeature(ctx, f))
	require.NotEqual(t, uuid.Nil, f.ID)

	jobs := readAllJobs(t, q)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "features", job.EntityType)
	assert.Equal(t, f.ID, job.EntityID)
	assert.Equal(t, tenantID, job.TenantID)
	assert.Contains(t, job.Content, "Feature: Payment Processing")
	assert.Contains(t, job.Content, "Priority: High")
	assert.Contains(t, job.Content, "Workflow Status: In Progress")
	assert.Contains(t, job.Content, "Description: Stripe integration for payments")
	assert.Equal(t, "Payment Processing", job.Metadata["name"])
}

func TestTouchFeatureNeverEnqueues(t *testing.T) {
	store, q, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{TenantID: tenantID, Name: "Search", Description: "Full-text search"}
	require.NoError(t, store.CreateFeature(ctx, f))

	_, err := q.Purge(ctx, testQueueName)
	require.NoError(t, err)

	before, err := store.GetFeature(ctx, tenantID, f.ID)
	require.NoError(t, err)

	require.NoError(t, store.TouchFeature(ctx, tenantID, f.ID))

	after, err := store.GetFeature(ctx, tenantID, f.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt) || after.UpdatedAt.Equal(before.UpdatedAt))

	n, err := q.Len(ctx, testQueueName)
	require.NoError(t, err)
	assert.Zero(t, n, "administrative touch must not enqueue an embedding job")
}

func TestUpdateFeatureWithoutContentChangeSkipsPipeline(t *testing.T) {
	store, q, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{TenantID: tenantID, Name: "Search", Description: "Full-text search", Priority: "Medium"}
	require.NoError(t, store.CreateFeature(ctx, f))
	_, err := q.Purge(ctx, testQueueName)
	require.NoError(t, err)

	// Resubmitting the same field values is a write, but not a content change.
	same := *f
	require.NoError(t, store.UpdateFeature(ctx, &same))

	n, err := q.Len(ctx, testQueueName)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateFeatureInvalidatesAndReenqueues(t *testing.T) {
	store, q, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{TenantID: tenantID, Name: "Checkout", Description: "Stripe checkout flow", Priority: "High"}
	require.NoError(t, store.CreateFeature(ctx, f))

	// Simulate a completed pipeline run so there is a stale vector to clear.
	embStore, err := embedding.NewStore(db.Pool, nil, log.NewNop())
	require.NoError(t, err)
	vec, err := embedding.Embed(ctx, testutil.NewFakeEmbedder(), "Stripe checkout flow")
	require.NoError(t, err)
	require.NoError(t, embStore.Upsert(ctx, embedding.Record{
		TenantID:   tenantID,
		EntityType: "features",
		EntityID:   f.ID,
		Content:    "Stripe checkout flow",
		Vector:     vec,
	}))
	_, err = q.Purge(ctx, testQueueName)
	require.NoError(t, err)

	updated := *f
	updated.Description = "Adyen checkout flow"
	require.NoError(t, store.UpdateFeature(ctx, &updated))

	count, err := embStore.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, count, "stale embedding must be invalidated on content change")

	jobs := readAllJobs(t, q)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].Content, "Adyen checkout flow")
	assert.NotContains(t, jobs[0].Content, "Stripe")
}

func TestUpdateFeatureNotFound(t *testing.T) {
	store, _, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{ID: uuid.New(), TenantID: tenantID, Name: "Ghost"}
	assert.ErrorIs(t, store.UpdateFeature(ctx, f), ErrNotFound)
}

func TestUpdateFeatureIsTenantScoped(t *testing.T) {
	store, _, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantA := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))
	tenantB := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "globex"))

	f := &Feature{TenantID: tenantA, Name: "Secret roadmap item"}
	require.NoError(t, store.CreateFeature(ctx, f))

	// Another tenant must not be able to see or update the row.
	cross := *f
	cross.TenantID = tenantB
	cross.Name = "Hijacked"
	assert.ErrorIs(t, store.UpdateFeature(ctx, &cross), ErrNotFound)

	_, err := store.GetFeature(ctx, tenantB, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	kept, err := store.GetFeature(ctx, tenantA, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Secret roadmap item", kept.Name)
}

func TestDeleteFeatureRemovesEmbedding(t *testing.T) {
	store, q, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	f := &Feature{TenantID: tenantID, Name: "Checkout", Description: "Checkout flow"}
	require.NoError(t, store.CreateFeature(ctx, f))

	embStore, err := embedding.NewStore(db.Pool, nil, log.NewNop())
	require.NoError(t, err)
	vec, err := embedding.Embed(ctx, testutil.NewFakeEmbedder(), "Checkout flow")
	require.NoError(t, err)
	require.NoError(t, embStore.Upsert(ctx, embedding.Record{
		TenantID: tenantID, EntityType: "features", EntityID: f.ID,
		Content: "Checkout flow", Vector: vec,
	}))
	_, err = q.Purge(ctx, testQueueName)
	require.NoError(t, err)

	require.NoError(t, store.DeleteFeature(ctx, tenantID, f.ID))

	_, err = store.GetFeature(ctx, tenantID, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := embStore.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, store.DeleteFeature(ctx, tenantID, f.ID), ErrNotFound)
}

func TestReleaseLifecycle(t *testing.T) {
	store, q, db, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	r := &Release{TenantID: tenantID, Name: "Q1 Launch", Status: "Planned", Description: "First quarter launch"}
	require.NoError(t, store.CreateRelease(ctx, r))
	require.NotEqual(t, uuid.Nil, r.ID)

	jobs := readAllJobs(t, q)
	require.Len(t, jobs, 1)
	assert.Equal(t, "releases", jobs[0].EntityType)
	assert.Contains(t, jobs[0].Content, "Release: Q1 Launch")
	assert.Contains(t, jobs[0].Content, "Status: Planned")
	_, err := q.Purge(ctx, testQueueName)
	require.NoError(t, err)

	updated := *r
	updated.Status = "Shipped"
	require.NoError(t, store.UpdateRelease(ctx, &updated))

	jobs = readAllJobs(t, q)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].Content, "Status: Shipped")
	_, err = q.Purge(ctx, testQueueName)
	require.NoError(t, err)

	require.NoError(t, store.DeleteRelease(ctx, tenantID, r.ID))
	_, err = store.GetRelease(ctx, tenantID, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
