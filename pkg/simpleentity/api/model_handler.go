package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// ContentModelHandler handles HTTP requests for the content-model catalog
type ContentModelHandler struct {
	service simpleentity.Service
}

// NewContentModelHandler creates a new content model handler
func NewContentModelHandler(service simpleentity.Service) *ContentModelHandler {
	return &ContentModelHandler{service: service}
}

// Routes returns the routes for content models
func (h *ContentModelHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListContentModels)
	r.Post("/", h.CreateContentModel)
	r.Get("/{id}", h.GetContentModel)
	r.Delete("/{id}", h.DeleteContentModel)
	return r
}

func (h *ContentModelHandler) ListContentModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.ContentModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, models)
}

func (h *ContentModelHandler) CreateContentModel(w http.ResponseWriter, r *http.Request) {
	var req ContentModelRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	m := &simpleentity.ContentModel{ID: req.ID, Name: req.Name, AllowedParentContentModels: req.AllowedParentContentModels}
	if err := h.service.CreateContentModel(r.Context(), m); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Content model created", "content_model_id", m.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, m)
}

func (h *ContentModelHandler) GetContentModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.ContentModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, m)
}

func (h *ContentModelHandler) DeleteContentModel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteContentModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
