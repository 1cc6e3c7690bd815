package sqlstore_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/repotest"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := sqlstore.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_Versions(t *testing.T) {
	repotest.RunVersionStoreTests(t, func(t *testing.T) simpleentity.VersionStore { return newStore(t) })
}

func TestSQLStore_Audit(t *testing.T) {
	repotest.RunAuditStoreTests(t, func(t *testing.T) simpleentity.AuditStore { return newStore(t) })
}

func TestSQLStore_ContentModels(t *testing.T) {
	repotest.RunContentModelStoreTests(t, func(t *testing.T) simpleentity.ContentModelStore { return newStore(t) })
}

func TestSQLStore_UnsupportedDialect(t *testing.T) {
	_, err := sqlstore.Open("oracle", "whatever")
	assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
}

func TestSQLStore_VersionKeepsEntityDocument(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	v := &simpleentity.Version{
		EntityID: "e1",
		Number:   1,
		Path:     "versions/e1/1",
		Entity: &simpleentity.Entity{
			ID: "e1", Version: 1, ContentModelID: "level1", Label: "first",
			Relations: map[string][]string{"isPartOf": {"entity:root"}},
			CreatedAt: created, UpdatedAt: created,
		},
		CreatedAt: created,
	}
	require.NoError(t, store.AddOldVersion(ctx, v))

	got, err := store.GetOldVersion(ctx, "e1", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Entity.Label)
	assert.Equal(t, v.Entity.Relations, got.Entity.Relations)
	assert.True(t, got.Entity.UpdatedAt.Equal(created))

	_, err = store.GetOldVersion(ctx, "e1", 2)
	assert.ErrorIs(t, err, simpleentity.ErrVersionNotFound)
}
