package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/memory"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/repotest"
)

func TestMemoryRepository_Index(t *testing.T) {
	repotest.RunIndexTests(t, func(t *testing.T) simpleentity.Index { return memory.New() })
}

func TestMemoryRepository_Versions(t *testing.T) {
	repotest.RunVersionStoreTests(t, func(t *testing.T) simpleentity.VersionStore { return memory.New() })
}

func TestMemoryRepository_Audit(t *testing.T) {
	repotest.RunAuditStoreTests(t, func(t *testing.T) simpleentity.AuditStore { return memory.New() })
}

func TestMemoryRepository_ContentModels(t *testing.T) {
	repotest.RunContentModelStoreTests(t, func(t *testing.T) simpleentity.ContentModelStore { return memory.New() })
}

func TestMemoryRepository_CopiesOnReadAndWrite(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	e := &simpleentity.Entity{ID: "e1", Version: 1, ContentModelID: "level1", Label: "original"}
	require.NoError(t, repo.CreateEntity(ctx, e))
	e.Label = "changed after create"

	got, err := repo.RetrieveEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Label)

	got.Label = "changed after read"
	again, err := repo.RetrieveEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Label)
}

func TestMemoryRepository_Schemas(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	url, err := repo.SchemaURL(ctx, "dc")
	require.NoError(t, err)
	assert.Equal(t, "http://purl.org/dc/elements/1.1/", url)

	_, err = repo.SchemaURL(ctx, "mods")
	assert.ErrorIs(t, err, simpleentity.ErrSchemaNotFound)

	repo.RegisterSchema("mods", "http://www.loc.gov/mods/v3")
	url, err = repo.SchemaURL(ctx, "mods")
	require.NoError(t, err)
	assert.Equal(t, "http://www.loc.gov/mods/v3", url)
}
