//go:build integration

package embedding

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadkit/roadkit/internal/log"
	"github.com/roadkit/roadkit/internal/testutil"
)

func setupEmbeddingStore(t *testing.T) (*Store, *testutil.FakeEmbedder, *testutil.TestDBContainer, func()) {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	embedder := testutil.NewFakeEmbedder()

	store, err := NewStore(db.Pool, embedder, log.NewNop())
	require.NoError(t, err)

	return store, embedder, db, cleanup
}

func upsertText(t *testing.T, store *Store, embedder *testutil.FakeEmbedder, tenantID uuid.UUID, entityType, text string) uuid.UUID {
	t.Helper()

	vec, err := Embed(context.Background(), embedder, text)
	require.NoError(t, err)

	entityID := uuid.New()
	require.NoError(t, store.Upsert(context.Background(), Record{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Content:    text,
		Metadata:   map[string]any{"name": text},
		Vector:     vec,
	}))
	return entityID
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))
	entityID := uuid.New()

	for _, content := range []string{"first version", "second version"} {
		vec, err := Embed(ctx, embedder, content)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, Record{
			TenantID:   tenantID,
			EntityType: "features",
			EntityID:   entityID,
			Content:    content,
			Vector:     vec,
		}))
	}

	// One row per entity key, holding the latest content.
	count, err := store.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	matches, err := store.SearchText(ctx, tenantID, "second version", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "second version", matches[0].Content)
}

func TestSearchReturnsNearestFirst(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	target := "Feature: Payment Processing\nDescription: Stripe integration"
	targetID := upsertText(t, store, embedder, tenantID, "features", target)
	upsertText(t, store, embedder, tenantID, "features", "Feature: Search\nDescription: full-text search")
	upsertText(t, store, embedder, tenantID, "releases", "Release: Q1 Launch\nStatus: Planned")

	matches, err := store.SearchText(ctx, tenantID, target, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// The exact content embeds to the identical vector: distance ~ 0.
	assert.Equal(t, targetID, matches[0].EntityID)
	assert.InDelta(t, 0.0, matches[0].Distance, 0.001)
	assert.Equal(t, target, matches[0].Content)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i].Distance, matches[i-1].Distance,
			"results must be ordered nearest first")
	}
}

func TestSearchHonorsTopK(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))
	for i := 0; i < 5; i++ {
		upsertText(t, store, embedder, tenantID, "features", uuid.NewString())
	}

	matches, err := store.SearchText(ctx, tenantID, "anything", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchIsTenantScoped(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantA := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))
	tenantB := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "globex"))

	secret := "Feature: Acme secret roadmap"
	upsertText(t, store, embedder, tenantA, "features", secret)

	matches, err := store.SearchText(ctx, tenantB, secret, 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "another tenant's rows must never be returned")

	matches, err = store.SearchText(ctx, tenantA, secret, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSameEntityIDDifferentTenants(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantA := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))
	tenantB := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "globex"))
	entityID := uuid.New()

	for tenant, content := range map[uuid.UUID]string{
		tenantA: "tenant A content",
		tenantB: "tenant B content",
	} {
		vec, err := Embed(ctx, embedder, content)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, Record{
			TenantID: tenant, EntityType: "features", EntityID: entityID,
			Content: content, Vector: vec,
		}))
	}

	// The unique key includes the tenant: both rows coexist.
	for tenant, want := range map[uuid.UUID]int64{tenantA: 1, tenantB: 1} {
		n, err := store.Count(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestInvalidateRemovesRow(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))
	entityID := upsertText(t, store, embedder, tenantID, "features", "some content")

	require.NoError(t, store.Invalidate(ctx, tenantID, "features", entityID))

	count, err := store.Count(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Invalidating an absent row is a no-op, not an error.
	require.NoError(t, store.Invalidate(ctx, tenantID, "features", entityID))
}

func TestSearchMetadataRoundTrip(t *testing.T) {
	store, embedder, db, cleanup := setupEmbeddingStore(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := uuid.MustParse(testutil.CreateTenant(t, db.Pool, "acme"))

	content := "Feature: Payment Processing"
	vec, err := Embed(ctx, embedder, content)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, Record{
		TenantID:   tenantID,
		EntityType: "features",
		EntityID:   uuid.New(),
		Content:    content,
		Metadata:   map[string]any{"name": "Payment Processing", "priority": "High"},
		Vector:     vec,
	}))

	matches, err := store.SearchText(ctx, tenantID, content, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Payment Processing", matches[0].Metadata["name"])
	assert.Equal(t, "High", matches[0].Metadata["priority"])
}
