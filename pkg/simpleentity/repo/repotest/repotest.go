// Package repotest holds behaviour tests shared by every repository backend.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

func ts(offset time.Duration) time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(offset)
}

func entity(id, model, parent string, created time.Time) *simpleentity.Entity {
	return &simpleentity.Entity{
		ID:             id,
		Version:        1,
		ContentModelID: model,
		ParentID:       parent,
		State:          simpleentity.StatePending,
		Label:          "Entity " + id,
		Metadata: []*simpleentity.Metadata{{
			Name: "dc", Type: "dc", MimeType: "text/xml", Size: 3, Path: "objects/aa/" + id,
			Checksum: "abc", ChecksumType: simpleentity.ChecksumSHA256,
			Source:      simpleentity.Source{URI: simpleentity.MetadataLocator(id, "dc"), Internal: true},
			IndexInline: true, JSONData: map[string]any{"title": "x"},
			CreatedAt: created, UpdatedAt: created,
		}},
		Relations:   map[string][]string{"isPartOf": {"entity:other"}},
		Identifiers: []simpleentity.Identifier{{Type: simpleentity.IdentifierDOI, Value: "10.1/" + id}},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// RunIndexTests exercises an Index implementation. newIndex must return an
// empty index.
func RunIndexTests(t *testing.T, newIndex func(t *testing.T) simpleentity.Index) {
	ctx := context.Background()

	t.Run("CreateRetrieve", func(t *testing.T) {
		idx := newIndex(t)
		e := entity("root1", "level1", "", ts(0))
		require.NoError(t, idx.CreateEntity(ctx, e))

		exists, err := idx.EntityExists(ctx, "root1")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := idx.RetrieveEntity(ctx, "root1")
		require.NoError(t, err)
		assert.Equal(t, e.Label, got.Label)
		assert.Equal(t, e.Relations, got.Relations)
		assert.Equal(t, e.Identifiers, got.Identifiers)
		require.Len(t, got.Metadata, 1)
		assert.Equal(t, "objects/aa/root1", got.Metadata[0].Path)
		assert.Equal(t, map[string]any{"title": "x"}, got.Metadata[0].JSONData)
		assert.True(t, got.UpdatedAt.Equal(e.UpdatedAt))

		err = idx.CreateEntity(ctx, e)
		assert.ErrorIs(t, err, simpleentity.ErrAlreadyExists)
	})

	t.Run("NotFound", func(t *testing.T) {
		idx := newIndex(t)
		exists, err := idx.EntityExists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = idx.RetrieveEntity(ctx, "missing")
		assert.ErrorIs(t, err, simpleentity.ErrNotFound)
		assert.ErrorIs(t, idx.DeleteEntity(ctx, "missing"), simpleentity.ErrNotFound)
	})

	t.Run("ConditionalUpdate", func(t *testing.T) {
		idx := newIndex(t)
		e := entity("root1", "level1", "", ts(0))
		require.NoError(t, idx.CreateEntity(ctx, e))
		rev := e.Revision()

		next := e.Clone()
		next.Version = 2
		next.Label = "renamed"
		next.UpdatedAt = ts(time.Minute)
		require.NoError(t, idx.UpdateEntity(ctx, next, rev))

		got, err := idx.RetrieveEntity(ctx, "root1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Label)
		assert.Equal(t, 2, got.Version)

		// a writer still holding the old revision loses
		stale := e.Clone()
		stale.Label = "stale"
		err = idx.UpdateEntity(ctx, stale, rev)
		assert.ErrorIs(t, err, simpleentity.ErrConflict)

		missing := entity("missing", "level1", "", ts(0))
		err = idx.UpdateEntity(ctx, missing, missing.Revision())
		assert.ErrorIs(t, err, simpleentity.ErrNotFound)
	})

	t.Run("Children", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.CreateEntity(ctx, entity("root1", "level1", "", ts(0))))
		require.NoError(t, idx.CreateEntity(ctx, entity("root2", "level1", "", ts(1))))
		require.NoError(t, idx.CreateEntity(ctx, entity("b", "level2", "root1", ts(2))))
		require.NoError(t, idx.CreateEntity(ctx, entity("a", "level2", "root1", ts(3))))

		children, err := idx.FetchChildren(ctx, "root1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, children)

		// reparenting moves the child
		a, err := idx.RetrieveEntity(ctx, "a")
		require.NoError(t, err)
		moved := a.Clone()
		moved.ParentID = "root2"
		moved.Version = 2
		moved.UpdatedAt = ts(time.Hour)
		require.NoError(t, idx.UpdateEntity(ctx, moved, a.Revision()))

		children, err = idx.FetchChildren(ctx, "root1")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, children)
		children, err = idx.FetchChildren(ctx, "root2")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, children)

		require.NoError(t, idx.DeleteEntity(ctx, "b"))
		children, err = idx.FetchChildren(ctx, "root1")
		require.NoError(t, err)
		assert.Empty(t, children)
	})

	t.Run("Search", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.CreateEntity(ctx, entity("root1", "level1", "", ts(0))))
		for i, id := range []string{"c1", "c2", "c3"} {
			e := entity(id, "level2", "root1", ts(time.Duration(i+1)*time.Second))
			if id == "c2" {
				e.State = simpleentity.StatePublished
				e.Label = "Special Collection"
			}
			require.NoError(t, idx.CreateEntity(ctx, e))
		}

		res, err := idx.SearchEntities(ctx, simpleentity.SearchQuery{ContentModelID: "level2"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		require.Len(t, res.Entities, 3)
		assert.Equal(t, "c1", res.Entities[0].ID)

		res, err = idx.SearchEntities(ctx, simpleentity.SearchQuery{ParentID: "root1", Offset: 1, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "c2", res.Entities[0].ID)

		res, err = idx.SearchEntities(ctx, simpleentity.SearchQuery{State: simpleentity.StatePublished})
		require.NoError(t, err)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "c2", res.Entities[0].ID)

		res, err = idx.SearchEntities(ctx, simpleentity.SearchQuery{Label: "special"})
		require.NoError(t, err)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "c2", res.Entities[0].ID)

		res, err = idx.SearchEntities(ctx, simpleentity.SearchQuery{ContentModelID: "data"})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Total)
		assert.Empty(t, res.Entities)
	})

	t.Run("Status", func(t *testing.T) {
		assert.NoError(t, newIndex(t).Status(ctx))
	})
}

// RunVersionStoreTests exercises a VersionStore implementation.
func RunVersionStoreTests(t *testing.T, newStore func(t *testing.T) simpleentity.VersionStore) {
	ctx := context.Background()

	t.Run("AddGetList", func(t *testing.T) {
		store := newStore(t)
		for _, n := range []int{2, 1, 3} {
			e := entity("e1", "level1", "", ts(0))
			e.Version = n
			e.Label = "v" + string(rune('0'+n))
			require.NoError(t, store.AddOldVersion(ctx, &simpleentity.Version{
				EntityID: "e1", Number: n, Path: "versions/e1/" + string(rune('0'+n)), Entity: e, CreatedAt: ts(time.Duration(n)),
			}))
		}

		v, err := store.GetOldVersion(ctx, "e1", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, v.Number)
		require.NotNil(t, v.Entity)
		assert.Equal(t, "v2", v.Entity.Label)
		assert.Equal(t, "versions/e1/2", v.Path)

		all, err := store.GetOldVersions(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i, v := range all {
			assert.Equal(t, i+1, v.Number)
		}

		none, err := store.GetOldVersions(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Immutable", func(t *testing.T) {
		store := newStore(t)
		v := &simpleentity.Version{EntityID: "e1", Number: 1, Path: "versions/e1/1", Entity: entity("e1", "level1", "", ts(0)), CreatedAt: ts(0)}
		require.NoError(t, store.AddOldVersion(ctx, v))
		assert.ErrorIs(t, store.AddOldVersion(ctx, v), simpleentity.ErrAlreadyExists)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		v := &simpleentity.Version{EntityID: "e1", Number: 1, Path: "versions/e1/1", Entity: entity("e1", "level1", "", ts(0)), CreatedAt: ts(0)}
		require.NoError(t, store.AddOldVersion(ctx, v))
		require.NoError(t, store.DeleteOldVersions(ctx, "e1"))

		_, err := store.GetOldVersion(ctx, "e1", 1)
		assert.ErrorIs(t, err, simpleentity.ErrNotFound)
		assert.NoError(t, store.DeleteOldVersions(ctx, "e1"))
	})
}

// RunAuditStoreTests exercises an AuditStore implementation.
func RunAuditStoreTests(t *testing.T, newStore func(t *testing.T) simpleentity.AuditStore) {
	ctx := context.Background()

	store := newStore(t)
	actions := []simpleentity.AuditAction{simpleentity.AuditUpdate, simpleentity.AuditCreate, simpleentity.AuditPublish}
	for i, action := range actions {
		// timestamps deliberately out of insertion order
		offset := []time.Duration{2, 1, 3}[i] * time.Second
		require.NoError(t, store.CreateAuditRecord(ctx, &simpleentity.AuditRecord{
			ID: string(action), EntityID: "e1", Action: action, AgentName: "alice", Timestamp: ts(offset),
		}))
	}
	require.NoError(t, store.CreateAuditRecord(ctx, &simpleentity.AuditRecord{
		ID: "other", EntityID: "e2", Action: simpleentity.AuditCreate, AgentName: "bob", Timestamp: ts(0),
	}))

	records, err := store.RetrieveAuditRecords(ctx, "e1", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, simpleentity.AuditCreate, records[0].Action)
	assert.Equal(t, simpleentity.AuditUpdate, records[1].Action)
	assert.Equal(t, simpleentity.AuditPublish, records[2].Action)
	assert.Equal(t, "alice", records[0].AgentName)

	page, err := store.RetrieveAuditRecords(ctx, "e1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, simpleentity.AuditUpdate, page[0].Action)

	require.NoError(t, store.DeleteAuditRecords(ctx, "e1"))
	records, err = store.RetrieveAuditRecords(ctx, "e1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = store.RetrieveAuditRecords(ctx, "e2", 0, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// RunContentModelStoreTests exercises a ContentModelStore implementation.
func RunContentModelStoreTests(t *testing.T, newStore func(t *testing.T) simpleentity.ContentModelStore) {
	ctx := context.Background()
	store := newStore(t)

	for _, m := range simpleentity.BuiltinContentModels() {
		require.NoError(t, store.CreateContentModel(ctx, m))
	}
	err := store.CreateContentModel(ctx, &simpleentity.ContentModel{ID: "level1", Name: "again"})
	assert.ErrorIs(t, err, simpleentity.ErrAlreadyExists)

	m, err := store.GetContentModel(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, []string{"level2", "data"}, m.AllowedParentContentModels)

	root, err := store.GetContentModel(ctx, "level1")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	all, err := store.ListContentModels(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.DeleteContentModel(ctx, "data"))
	_, err = store.GetContentModel(ctx, "data")
	assert.ErrorIs(t, err, simpleentity.ErrNotFound)
	assert.ErrorIs(t, store.DeleteContentModel(ctx, "data"), simpleentity.ErrNotFound)
}
