package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// EntityHandler handles HTTP requests for entities
type EntityHandler struct {
	service simpleentity.Service
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(service simpleentity.Service) *EntityHandler {
	return &EntityHandler{service: service}
}

// Routes returns the routes for entities
func (h *EntityHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateEntity)
	r.Get("/", h.SearchEntities)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetEntity)
		r.Put("/", h.UpdateEntity)
		r.Patch("/", h.PatchEntity)
		r.Delete("/", h.DeleteEntity)

		r.Get("/versions", h.ListVersions)
		r.Get("/hierarchy", h.GetHierarchy)

		// State transitions
		r.Post("/submit", h.transition(h.service.Submit, "submitted"))
		r.Post("/publish", h.transition(h.service.Publish, "published"))
		r.Post("/withdraw", h.transition(h.service.Withdraw, "withdrawn"))
		r.Post("/pending", h.transition(h.service.Pending, "pending"))

		// Payloads
		r.Post("/binaries/{name}", h.UploadBinary)
		r.Get("/binaries/{name}", h.DownloadBinary)
		r.Delete("/binaries/{name}", h.DeleteBinary)
		r.Post("/binaries/{name}/metadata/{meta}", h.UploadBinaryMetadata)
		r.Get("/binaries/{name}/metadata/{meta}", h.DownloadBinaryMetadata)
		r.Delete("/binaries/{name}/metadata/{meta}", h.DeleteBinaryMetadata)
		r.Post("/metadata/{meta}", h.UploadMetadata)
		r.Get("/metadata/{meta}", h.DownloadMetadata)
		r.Delete("/metadata/{meta}", h.DeleteMetadata)

		// Relations and identifiers
		r.Post("/relations", h.CreateRelation)
		r.Delete("/relations", h.DeleteRelation)
		r.Post("/identifiers", h.CreateIdentifier)
		r.Delete("/identifiers/{type}/{value}", h.DeleteIdentifier)

		// Audit trail
		r.Get("/audit", h.ListAuditRecords)
		r.Post("/audit", h.CreateAuditRecord)
	})

	return r
}

// CreateEntity creates a new entity
func (h *EntityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	id, err := h.service.Create(r.Context(), req.toEntity())
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Entity created", "entity_id", id, "agent", simpleentity.AgentFromContext(r.Context()))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateEntityResponse{ID: id})
}

// GetEntity returns an entity, optionally at ?version=n
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := queryInt(r, "version", 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var e *simpleentity.Entity
	if version == 0 {
		e, err = h.service.Retrieve(r.Context(), id)
	} else {
		e, err = h.service.RetrieveVersion(r.Context(), id, version)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, e)
}

// UpdateEntity replaces the mutable fields of an entity
func (h *EntityHandler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	e := req.toEntity()
	e.ID = chi.URLParam(r, "id")

	if err := h.service.Update(r.Context(), e); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondEntity(w, r, e.ID)
}

// PatchEntity applies a partial update of label, parent_id and state
func (h *EntityHandler) PatchEntity(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := readJSON(r, &fields); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.service.Patch(r.Context(), id, fields); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondEntity(w, r, id)
}

// DeleteEntity deletes an entity and its descendants
func (h *EntityHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Entity deleted", "entity_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// SearchEntities lists entities matching the query parameters
func (h *EntityHandler) SearchEntities(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", simpleentity.DefaultSearchLimit)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	q := r.URL.Query()
	result, err := h.service.Search(r.Context(), simpleentity.SearchQuery{
		ContentModelID: q.Get("content_model_id"),
		ParentID:       q.Get("parent_id"),
		State:          simpleentity.State(q.Get("state")),
		Label:          q.Get("label"),
		Offset:         offset,
		Limit:          limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// ListVersions returns the snapshots of an entity
func (h *EntityHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.OldVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, versions)
}

// GetHierarchy returns the level-1 and level-2 ancestors of an entity
func (h *EntityHandler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	hierarchy, err := h.service.Hierarchy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, hierarchy)
}

func (h *EntityHandler) transition(fn func(ctx context.Context, id string) error, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		slog.Info("Entity "+verb, "entity_id", id)
		h.respondEntity(w, r, id)
	}
}

// CreateRelation adds an object under a predicate
func (h *EntityHandler) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var req RelationRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.service.CreateRelation(r.Context(), id, req.Predicate, req.Object); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	h.respondEntity(w, r, id)
}

// DeleteRelation removes ?predicate=&object=
func (h *EntityHandler) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	predicate, object := r.URL.Query().Get("predicate"), r.URL.Query().Get("object")
	if predicate == "" || object == "" {
		badRequest(w, r, "predicate and object are required")
		return
	}
	if err := h.service.DeleteRelation(r.Context(), chi.URLParam(r, "id"), predicate, object); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateIdentifier adds an alternative identifier
func (h *EntityHandler) CreateIdentifier(w http.ResponseWriter, r *http.Request) {
	var req IdentifierRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	ident := simpleentity.Identifier{Type: simpleentity.IdentifierType(req.Type), Value: req.Value}
	if err := h.service.CreateIdentifier(r.Context(), id, ident); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	h.respondEntity(w, r, id)
}

// DeleteIdentifier removes an alternative identifier
func (h *EntityHandler) DeleteIdentifier(w http.ResponseWriter, r *http.Request) {
	ident := simpleentity.Identifier{
		Type:  simpleentity.IdentifierType(chi.URLParam(r, "type")),
		Value: chi.URLParam(r, "value"),
	}
	if err := h.service.DeleteIdentifier(r.Context(), chi.URLParam(r, "id"), ident); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAuditRecords returns audit records, paged by ?offset=&count=
func (h *EntityHandler) ListAuditRecords(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	count, err := queryInt(r, "count", simpleentity.DefaultSearchLimit)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	records, err := h.service.AuditRecords(r.Context(), chi.URLParam(r, "id"), offset, count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, records)
}

// CreateAuditRecord appends a caller supplied audit record
func (h *EntityHandler) CreateAuditRecord(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	rec := &simpleentity.AuditRecord{
		EntityID: chi.URLParam(r, "id"),
		Action:   simpleentity.AuditAction(req.Action),
		Detail:   req.Detail,
	}
	if err := h.service.CreateAuditRecord(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

func (h *EntityHandler) respondEntity(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.service.Retrieve(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, e)
}
