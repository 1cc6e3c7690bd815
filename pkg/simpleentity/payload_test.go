package simpleentity_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	memorystorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/memory"
)

const dcRecord = `<record><title>On Growth and Form</title><creator>Thompson</creator></record>`

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestCreate_IngestsPayloads(t *testing.T) {
	env := setupTestService(t, simpleentity.WithSourceOpener(mapOpener{
		"https://example.org/scan.tif": "TIFFDATA",
	}))
	ctx := context.Background()

	id, err := env.svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Metadata: []*simpleentity.Metadata{{
			Name: "dc", Type: "dc", MimeType: "text/xml", IndexInline: true,
			Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)},
		}},
		Binaries: []*simpleentity.Binary{{
			Name: "scan", MimeType: "image/tiff", Filename: "scan.tif",
			Source: simpleentity.Source{URI: "https://example.org/scan.tif"},
			Metadata: []*simpleentity.Metadata{{
				Name: "tech", Type: "datacite", MimeType: "application/json",
				Source: simpleentity.Source{Reader: strings.NewReader(`{"dpi":600}`)},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, env.blobs.Len())

	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	require.Len(t, e.Metadata, 1)
	require.Len(t, e.Binaries, 1)

	dc := e.Metadata[0]
	assert.Equal(t, sum(dcRecord), dc.Checksum)
	assert.Equal(t, simpleentity.ChecksumSHA256, dc.ChecksumType)
	assert.Equal(t, int64(len(dcRecord)), dc.Size)
	assert.True(t, dc.Source.Internal)
	assert.Equal(t, simpleentity.MetadataLocator(id, "dc"), dc.Source.URI)
	assert.NotNil(t, dc.JSONData)

	scan := e.Binaries[0]
	assert.Equal(t, sum("TIFFDATA"), scan.Checksum)
	assert.Equal(t, int64(8), scan.Size)
	assert.Equal(t, simpleentity.BinaryLocator(id, "scan"), scan.Source.URI)
	require.Len(t, scan.Metadata, 1)
	assert.Nil(t, scan.Metadata[0].JSONData)
	assert.Equal(t, simpleentity.BinaryMetadataLocator(id, "scan", "tech"), scan.Metadata[0].Source.URI)

	_, rc, err := env.svc.OpenBinary(ctx, id, "scan", 0)
	require.NoError(t, err)
	assert.Equal(t, "TIFFDATA", readAll(t, rc))

	_, rc, err = env.svc.OpenBinaryMetadata(ctx, id, "scan", "tech", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"dpi":600}`, readAll(t, rc))
}

func TestChecksumsIgnoreCallerValues(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
	require.NoError(t, err)

	require.NoError(t, env.svc.CreateBinary(ctx, id, &simpleentity.Binary{
		Name: "data", MimeType: "text/csv", Checksum: "bogus", Size: 999,
		Source: simpleentity.Source{Reader: strings.NewReader("a,b\n1,2\n")},
	}))

	b, rc, err := env.svc.OpenBinary(ctx, id, "data", 0)
	require.NoError(t, err)
	body := readAll(t, rc)
	assert.Equal(t, sum(body), b.Checksum)
	assert.Equal(t, int64(len(body)), b.Size)
}

func TestPayloadValidation(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
	require.NoError(t, err)
	src := func() simpleentity.Source { return simpleentity.Source{Reader: strings.NewReader(dcRecord)} }

	tests := []struct {
		name string
		meta *simpleentity.Metadata
		want error
	}{
		{"no name", &simpleentity.Metadata{Type: "dc", MimeType: "text/xml", Source: src()}, simpleentity.ErrInvalidParameter},
		{"slash in name", &simpleentity.Metadata{Name: "a/b", Type: "dc", MimeType: "text/xml", Source: src()}, simpleentity.ErrInvalidParameter},
		{"no type", &simpleentity.Metadata{Name: "m", MimeType: "text/xml", Source: src()}, simpleentity.ErrInvalidParameter},
		{"no mime type", &simpleentity.Metadata{Name: "m", Type: "dc", Source: src()}, simpleentity.ErrInvalidParameter},
		{"no source", &simpleentity.Metadata{Name: "m", Type: "dc", MimeType: "text/xml"}, simpleentity.ErrInvalidParameter},
		{"unknown schema", &simpleentity.Metadata{Name: "m", Type: "mods", MimeType: "text/xml", Source: src()}, simpleentity.ErrSchemaNotFound},
		{"unparseable inline", &simpleentity.Metadata{Name: "m", Type: "dc", MimeType: "text/xml", IndexInline: true, Source: simpleentity.Source{Reader: strings.NewReader("<open>")}}, simpleentity.ErrInvalidParameter},
		{"unreachable uri", &simpleentity.Metadata{Name: "m", Type: "dc", MimeType: "text/xml", Source: simpleentity.Source{URI: "http://127.0.0.1:0/x"}}, simpleentity.ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, env.svc.CreateMetadata(ctx, id, tt.meta), tt.want)
		})
	}

	require.NoError(t, env.svc.CreateMetadata(ctx, id, &simpleentity.Metadata{Name: "dc", Type: "dc", MimeType: "text/xml", Source: src()}))
	assert.ErrorIs(t, env.svc.CreateMetadata(ctx, id, &simpleentity.Metadata{Name: "dc", Type: "dc", MimeType: "text/xml", Source: src()}), simpleentity.ErrAlreadyExists)
	assert.ErrorIs(t, env.svc.CreateBinaryMetadata(ctx, id, "missing", &simpleentity.Metadata{Name: "x", Type: "dc", MimeType: "text/xml", Source: src()}), simpleentity.ErrBinaryNotFound)

	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Version)
	assert.Equal(t, 1, env.blobs.Len())
}

func TestFailedIngestDiscardsBlobs(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Metadata: []*simpleentity.Metadata{{
			Name: "dc", Type: "dc", MimeType: "text/xml", IndexInline: true,
			Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)},
		}},
		Binaries: []*simpleentity.Binary{{
			Name: "b", MimeType: "text/plain",
			Source: simpleentity.Source{Reader: strings.NewReader("bytes")},
			Metadata: []*simpleentity.Metadata{{
				Name: "broken", Type: "dc", MimeType: "application/json", IndexInline: true,
				Source: simpleentity.Source{Reader: strings.NewReader("{not json")},
			}},
		}},
	})
	assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
	assert.Zero(t, env.blobs.Len())

	result, err := env.svc.Search(ctx, simpleentity.SearchQuery{})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
}

func TestIndexInlineFlipKeepsOldVersion(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Metadata: []*simpleentity.Metadata{{
			Name: "dc", Type: "dc", MimeType: "text/xml",
			Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)},
		}},
	})
	require.NoError(t, err)

	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	require.Nil(t, e.Metadata[0].JSONData)
	oldPath := e.Metadata[0].Path

	e.Metadata[0].IndexInline = true
	require.NoError(t, env.svc.Update(ctx, e))

	current, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.True(t, current.Metadata[0].IndexInline)
	assert.NotNil(t, current.Metadata[0].JSONData)
	assert.Equal(t, sum(dcRecord), current.Metadata[0].Checksum)
	assert.NotEqual(t, oldPath, current.Metadata[0].Path)

	old, err := env.svc.RetrieveVersion(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, old.Metadata[0].IndexInline)
	assert.Nil(t, old.Metadata[0].JSONData)
	assert.Equal(t, oldPath, old.Metadata[0].Path)

	_, rc, err := env.svc.OpenMetadata(ctx, id, "dc", 1)
	require.NoError(t, err)
	assert.Equal(t, dcRecord, readAll(t, rc))

	// flipping back drops the projection
	current.Metadata[0].IndexInline = false
	require.NoError(t, env.svc.Update(ctx, current))
	latest, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, latest.Metadata[0].JSONData)
}

func TestUpdate_CarriesOverUnchangedPayloads(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Binaries: []*simpleentity.Binary{{
			Name: "b", MimeType: "text/plain",
			Source: simpleentity.Source{Reader: strings.NewReader("payload")},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, env.blobs.Len())

	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	before := *e.Binaries[0]
	e.Label = "relabelled"
	require.NoError(t, env.svc.Update(ctx, e))

	got, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Path, got.Binaries[0].Path)
	assert.Equal(t, before.Checksum, got.Binaries[0].Checksum)
	assert.Equal(t, 1, env.blobs.Len())

	// copying from the entity's own binary under a new name reuses the stored bytes
	got.Binaries = append(got.Binaries, &simpleentity.Binary{
		Name: "copy", MimeType: "text/plain",
		Source: simpleentity.Source{URI: simpleentity.BinaryLocator(id, "b"), Internal: true},
	})
	require.NoError(t, env.svc.Update(ctx, got))
	_, rc, err := env.svc.OpenBinary(ctx, id, "copy", 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", readAll(t, rc))
}

func TestUpdate_LocatorIsInternalWithoutFlag(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Metadata: []*simpleentity.Metadata{{
			Name: "dc", Type: "dc", MimeType: "text/xml",
			Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)},
		}},
	})
	require.NoError(t, err)

	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	before := *e.Metadata[0]
	e.Metadata[0].Source = simpleentity.Source{URI: simpleentity.MetadataLocator(id, "dc")}
	require.NoError(t, env.svc.Update(ctx, e))

	got, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Metadata, 1)
	assert.Equal(t, before.Path, got.Metadata[0].Path)
	assert.Equal(t, before.Checksum, got.Metadata[0].Checksum)
	assert.Equal(t, 1, env.blobs.Len())
}

// failingDeletes keeps every blob it is asked to delete.
type failingDeletes struct {
	*memorystorage.Backend
}

func (failingDeletes) Delete(ctx context.Context, path string) error {
	return errors.New("disk busy")
}

func TestDeletePayloads_BlobFailureKeepsSuccess(t *testing.T) {
	blobs := memorystorage.New()
	env := setupTestService(t, simpleentity.WithBlobStore(failingDeletes{blobs}))
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Metadata: []*simpleentity.Metadata{{
			Name: "dc", Type: "dc", MimeType: "text/xml",
			Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)},
		}},
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteMetadata(ctx, id, "dc"))
	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, e.Metadata)
	assert.Equal(t, 2, e.Version)
	assert.Equal(t, 1, blobs.Len())

	assert.ErrorIs(t, env.svc.DeleteMetadata(ctx, id, "dc"), simpleentity.ErrMetadataNotFound)
}

func TestDeletePayloads(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
	require.NoError(t, err)

	require.NoError(t, env.svc.CreateBinary(ctx, id, &simpleentity.Binary{Name: "b", MimeType: "text/plain", Source: simpleentity.Source{Reader: strings.NewReader("x")}}))
	require.NoError(t, env.svc.CreateBinaryMetadata(ctx, id, "b", &simpleentity.Metadata{Name: "m", Type: "dc", MimeType: "text/xml", Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)}}))
	require.NoError(t, env.svc.CreateMetadata(ctx, id, &simpleentity.Metadata{Name: "dc", Type: "dc", MimeType: "text/xml", Source: simpleentity.Source{Reader: strings.NewReader(dcRecord)}}))
	assert.Equal(t, 3, env.blobs.Len())

	require.NoError(t, env.svc.DeleteBinaryMetadata(ctx, id, "b", "m"))
	assert.ErrorIs(t, env.svc.DeleteBinaryMetadata(ctx, id, "b", "m"), simpleentity.ErrMetadataNotFound)
	require.NoError(t, env.svc.DeleteMetadata(ctx, id, "dc"))
	assert.ErrorIs(t, env.svc.DeleteMetadata(ctx, id, "dc"), simpleentity.ErrMetadataNotFound)
	require.NoError(t, env.svc.DeleteBinary(ctx, id, "b"))
	assert.ErrorIs(t, env.svc.DeleteBinary(ctx, id, "b"), simpleentity.ErrBinaryNotFound)
	assert.Zero(t, env.blobs.Len())

	e, err := env.svc.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, e.Binaries)
	assert.Empty(t, e.Metadata)
	assert.Equal(t, 7, e.Version)

	_, _, err = env.svc.OpenBinary(ctx, id, "b", 0)
	assert.ErrorIs(t, err, simpleentity.ErrBinaryNotFound)
}
