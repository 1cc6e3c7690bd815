package simpleentity_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

func TestHierarchy(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	area, collection, item := env.tree(t)
	nested, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelData, ParentID: item})
	require.NoError(t, err)

	tests := []struct {
		id     string
		level1 string
		level2 string
	}{
		{area, area, ""},
		{collection, area, collection},
		{item, area, collection},
		{nested, area, collection},
	}
	for _, tt := range tests {
		h, err := env.svc.Hierarchy(ctx, tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.level1, h.Level1ID, tt.id)
		assert.Equal(t, tt.level2, h.Level2ID, tt.id)
	}

	_, err = env.svc.Hierarchy(ctx, "nope")
	assert.ErrorIs(t, err, simpleentity.ErrEntityNotFound)
}

func TestHierarchy_MaxDepth(t *testing.T) {
	env := setupTestService(t, simpleentity.WithMaxDepth(3))
	ctx := context.Background()
	_, _, item := env.tree(t)

	_, err := env.svc.Hierarchy(ctx, item)
	require.NoError(t, err)

	deep, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelData, ParentID: item})
	require.NoError(t, err)
	_, err = env.svc.Hierarchy(ctx, deep)
	assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
}

func TestMove(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	area, collection, item := env.tree(t)
	other, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelData, ParentID: collection, Label: "Other"})
	require.NoError(t, err)

	t.Run("WithinCollection", func(t *testing.T) {
		require.NoError(t, env.svc.Patch(ctx, other, map[string]any{"parent_id": item}))
		e, err := env.svc.Retrieve(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, []string{other}, e.Children)

		require.NoError(t, env.svc.Patch(ctx, other, map[string]any{"parent_id": collection}))
	})

	t.Run("Cycle", func(t *testing.T) {
		require.NoError(t, env.svc.Patch(ctx, other, map[string]any{"parent_id": item}))
		err := env.svc.Patch(ctx, item, map[string]any{"parent_id": other})
		assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
		assert.ErrorContains(t, err, "cycle")

		err = env.svc.Patch(ctx, item, map[string]any{"parent_id": item})
		assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
	})

	t.Run("DifferentLevel1", func(t *testing.T) {
		area2, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
		require.NoError(t, err)
		collection2, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel2, ParentID: area2})
		require.NoError(t, err)

		e, err := env.svc.Retrieve(ctx, item)
		require.NoError(t, err)
		e.ParentID = collection2
		err = env.svc.Update(ctx, e)
		assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
		assert.ErrorContains(t, err, "different level1")

		err = env.svc.Patch(ctx, collection, map[string]any{"parent_id": area2})
		assert.ErrorContains(t, err, "different level1")
	})

	t.Run("DifferentLevel2", func(t *testing.T) {
		sibling, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel2, ParentID: area})
		require.NoError(t, err)
		err = env.svc.Patch(ctx, item, map[string]any{"parent_id": sibling})
		assert.ErrorContains(t, err, "different level2")
	})

	t.Run("DisallowedParent", func(t *testing.T) {
		err := env.svc.Patch(ctx, item, map[string]any{"parent_id": area})
		assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
	})

	e, err := env.svc.Retrieve(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, collection, e.ParentID)
}

func TestDelete_Cascade(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	area, collection, item := env.tree(t)
	require.NoError(t, env.svc.CreateBinary(ctx, item, &simpleentity.Binary{Name: "b", MimeType: "text/plain", Source: simpleentity.Source{Reader: strings.NewReader("v1")}}))
	require.NoError(t, env.svc.CreateMetadata(ctx, item, &simpleentity.Metadata{Name: "dc", Type: "dc", MimeType: "text/xml", Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)}}))
	require.Equal(t, 2, env.blobs.Len())

	require.NoError(t, env.svc.Delete(ctx, area))

	for _, id := range []string{area, collection, item} {
		_, err := env.svc.Retrieve(ctx, id)
		assert.ErrorIs(t, err, simpleentity.ErrEntityNotFound, id)

		versions, err := env.repo.GetOldVersions(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, versions)

		records, err := env.repo.RetrieveAuditRecords(ctx, id, 0, 100)
		require.NoError(t, err)
		assert.Empty(t, records)
	}
	assert.Zero(t, env.blobs.Len())

	assert.ErrorIs(t, env.svc.Delete(ctx, area), simpleentity.ErrEntityNotFound)
}

func TestDelete_PublishedDescendantProtects(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	area, collection, item := env.tree(t)
	require.NoError(t, env.svc.Publish(ctx, item))

	assert.ErrorIs(t, env.svc.Delete(ctx, area), simpleentity.ErrInvalidState)
	assert.ErrorIs(t, env.svc.Delete(ctx, item), simpleentity.ErrInvalidState)

	for _, id := range []string{area, collection, item} {
		_, err := env.svc.Retrieve(ctx, id)
		assert.NoError(t, err, id)
	}

	require.NoError(t, env.svc.Withdraw(ctx, item))
	require.NoError(t, env.svc.Delete(ctx, collection))

	e, err := env.svc.Retrieve(ctx, area)
	require.NoError(t, err)
	assert.Empty(t, e.Children)
}
