package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/memory"
	memorystorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/memory"
)

func setupRouter(t *testing.T) (chi.Router, simpleentity.Service) {
	t.Helper()
	service, err := simpleentity.New(
		simpleentity.WithRepository(memory.New()),
		simpleentity.WithBlobStore(memorystorage.New()),
	)
	require.NoError(t, err)
	return NewRouter(service, nil), service
}

func do(t *testing.T, router http.Handler, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func createEntity(t *testing.T, router http.Handler, req EntityRequest) string {
	t.Helper()
	w := do(t, router, http.MethodPost, "/entities", jsonBody(t, req), "Content-Type", "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateEntityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func decodeEntity(t *testing.T, w *httptest.ResponseRecorder) *simpleentity.Entity {
	t.Helper()
	var e simpleentity.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return &e
}

func TestCreateAndGetEntity(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1, Label: "Area"})

	w := do(t, router, http.MethodGet, "/entities/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	e := decodeEntity(t, w)
	assert.Equal(t, "Area", e.Label)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, simpleentity.StatePending, e.State)
}

func TestErrorStatuses(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ID: "area", ContentModelID: simpleentity.ContentModelLevel1})
	require.Equal(t, "area", id)

	tests := []struct {
		name   string
		method string
		target string
		body   io.Reader
		want   int
	}{
		{"missing entity", http.MethodGet, "/entities/nope", nil, http.StatusNotFound},
		{"duplicate id", http.MethodPost, "/entities", jsonBody(t, EntityRequest{ID: "area", ContentModelID: "level1"}), http.StatusConflict},
		{"unknown content model", http.MethodPost, "/entities", jsonBody(t, EntityRequest{ContentModelID: "unknown"}), http.StatusNotFound},
		{"invalid state value", http.MethodPost, "/entities", jsonBody(t, EntityRequest{ContentModelID: "level1", State: "DONE"}), http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/entities", strings.NewReader("{"), http.StatusBadRequest},
		{"bad version", http.MethodGet, "/entities/area?version=x", nil, http.StatusBadRequest},
		{"missing version", http.MethodGet, "/entities/area?version=7", nil, http.StatusNotFound},
		{"missing relation params", http.MethodDelete, "/entities/area/relations", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.target, tt.body, "Content-Type", "application/json")
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestBinaryUploadAndDownload(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1})

	w := do(t, router, http.MethodPost, "/entities/"+id+"/binaries/readme?filename=readme.txt", strings.NewReader("hello world"), "Content-Type", "text/plain")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	e := decodeEntity(t, w)
	require.Len(t, e.Binaries, 1)
	assert.Equal(t, int64(11), e.Binaries[0].Size)
	assert.Equal(t, 2, e.Version)

	w = do(t, router, http.MethodGet, "/entities/"+id+"/binaries/readme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "sha-256="+e.Binaries[0].Checksum, w.Header().Get("Digest"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "readme.txt")

	w = do(t, router, http.MethodDelete, "/entities/"+id+"/binaries/readme", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/entities/"+id+"/binaries/readme?version=2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/entities/"+id+"/binaries/readme", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetadataInlineProjection(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1})

	xml := `<record><title>On Growth</title></record>`
	w := do(t, router, http.MethodPost, "/entities/"+id+"/metadata/dc?type=dc&index_inline=true", strings.NewReader(xml), "Content-Type", "text/xml")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	e := decodeEntity(t, w)
	require.Len(t, e.Metadata, 1)
	assert.True(t, e.Metadata[0].IndexInline)
	assert.NotNil(t, e.Metadata[0].JSONData)

	w = do(t, router, http.MethodGet, "/entities/"+id+"/metadata/dc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xml, w.Body.String())

	w = do(t, router, http.MethodPost, "/entities/"+id+"/metadata/bad?type=unknown-schema", strings.NewReader(xml), "Content-Type", "text/xml")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/entities/"+id+"/metadata/broken?type=dc&index_inline=true", strings.NewReader("<open>"), "Content-Type", "text/xml")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateKeepsStoredPayloads(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1, Label: "Area"})

	w := do(t, router, http.MethodPost, "/entities/"+id+"/metadata/dc?type=dc", strings.NewReader(`<record><title>On Growth</title></record>`), "Content-Type", "text/xml")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, router, http.MethodPost, "/entities/"+id+"/binaries/readme", strings.NewReader("hello world"), "Content-Type", "text/plain")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/entities/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	before := decodeEntity(t, w)
	require.Len(t, before.Metadata, 1)
	require.Len(t, before.Binaries, 1)

	// send the stored descriptors back with a new label
	m, b := before.Metadata[0], before.Binaries[0]
	req := EntityRequest{
		ContentModelID: before.ContentModelID,
		Label:          "Renamed",
		Metadata:       []*PayloadRequest{{Name: m.Name, Type: m.Type, MimeType: m.MimeType, SourceURI: m.Source.URI}},
		Binaries:       []*PayloadRequest{{Name: b.Name, MimeType: b.MimeType, SourceURI: b.Source.URI}},
	}
	w = do(t, router, http.MethodPut, "/entities/"+id, jsonBody(t, req))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	after := decodeEntity(t, w)
	assert.Equal(t, "Renamed", after.Label)
	assert.Equal(t, before.Version+1, after.Version)
	require.Len(t, after.Metadata, 1)
	assert.Equal(t, m.Checksum, after.Metadata[0].Checksum)
	assert.Equal(t, m.Path, after.Metadata[0].Path)
	require.Len(t, after.Binaries, 1)
	assert.Equal(t, b.Checksum, after.Binaries[0].Checksum)
	assert.Equal(t, b.Path, after.Binaries[0].Path)

	w = do(t, router, http.MethodGet, "/entities/"+id+"/binaries/readme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
}

func TestTransitionsAndPatch(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1})

	w := do(t, router, http.MethodPost, "/entities/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, simpleentity.StatePublished, decodeEntity(t, w).State)

	// published entities are frozen
	w = do(t, router, http.MethodPatch, "/entities/"+id, jsonBody(t, map[string]any{"label": "new"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_state", resp.Error)

	w = do(t, router, http.MethodPatch, "/entities/"+id, jsonBody(t, map[string]any{"state": "WITHDRAWN"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, simpleentity.StateWithdrawn, decodeEntity(t, w).State)

	w = do(t, router, http.MethodPost, "/entities/"+id+"/submit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodDelete, "/entities/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRelationsIdentifiersAndAudit(t *testing.T) {
	router, _ := setupRouter(t)
	id := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1})

	w := do(t, router, http.MethodPost, "/entities/"+id+"/relations", jsonBody(t, RelationRequest{Predicate: "isReferencedBy", Object: "https://example.org/paper"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"https://example.org/paper"}, decodeEntity(t, w).Relations["isReferencedBy"])

	w = do(t, router, http.MethodPost, "/entities/"+id+"/relations", jsonBody(t, RelationRequest{Predicate: "isReferencedBy", Object: "https://example.org/paper"}))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodDelete, "/entities/"+id+"/relations?predicate=isReferencedBy&object=https://example.org/paper", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodPost, "/entities/"+id+"/identifiers", jsonBody(t, IdentifierRequest{Type: "ISBN", Value: "978-3-16-148410-0"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, "/entities/"+id+"/identifiers", jsonBody(t, IdentifierRequest{Type: "ORCID", Value: "x"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodDelete, "/entities/"+id+"/identifiers/ISBN/978-3-16-148410-0", nil)
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, "/entities/"+id+"/audit", jsonBody(t, AuditRequest{Detail: "checked by curator"}), AgentHeader, "curator")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/entities/"+id+"/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []*simpleentity.AuditRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.NotEmpty(t, records)

	var note *simpleentity.AuditRecord
	for _, rec := range records {
		if rec.Action == simpleentity.AuditNote {
			note = rec
		}
	}
	require.NotNil(t, note)
	assert.Equal(t, "curator", note.AgentName)
	assert.Equal(t, "checked by curator", note.Detail)
}

func TestSearchAndVersions(t *testing.T) {
	router, _ := setupRouter(t)
	area := createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel1, Label: "Area"})
	createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel2, ParentID: area, Label: "Physics"})
	createEntity(t, router, EntityRequest{ContentModelID: simpleentity.ContentModelLevel2, ParentID: area, Label: "Chemistry"})

	w := do(t, router, http.MethodGet, "/entities?parent_id="+area+"&label=phys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result simpleentity.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Physics", result.Entities[0].Label)

	w = do(t, router, http.MethodGet, "/entities?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPut, "/entities/"+area, jsonBody(t, EntityRequest{Label: "Renamed"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decodeEntity(t, w).Version)

	w = do(t, router, http.MethodGet, "/entities/"+area+"/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions []*simpleentity.Version
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	require.Len(t, versions, 1)
	assert.Equal(t, "Area", versions[0].Entity.Label)

	w = do(t, router, http.MethodGet, "/entities/"+area+"?version=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Area", decodeEntity(t, w).Label)

	w = do(t, router, http.MethodGet, "/entities/"+area+"/hierarchy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var h simpleentity.Hierarchy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, area, h.Level1ID)
}

func TestContentModelRoutes(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(t, router, http.MethodGet, "/content-models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var models []*simpleentity.ContentModel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &models))
	assert.Len(t, models, 3)

	w = do(t, router, http.MethodPost, "/content-models", jsonBody(t, ContentModelRequest{ID: "dataset", AllowedParentContentModels: []string{"level2"}}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/content-models/dataset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/content-models", jsonBody(t, ContentModelRequest{ID: "orphan", AllowedParentContentModels: []string{"missing"}}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodDelete, "/content-models/dataset", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
