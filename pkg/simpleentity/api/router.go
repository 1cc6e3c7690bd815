package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// NewRouter mounts every handler. A nil ja trusts the X-Agent header.
func NewRouter(service simpleentity.Service, ja *jwtauth.JWTAuth) chi.Router {
	r := chi.NewRouter()
	r.Use(Agent(ja))

	r.Mount("/entities", NewEntityHandler(service).Routes())
	r.Mount("/content-models", NewContentModelHandler(service).Routes())
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		if err := service.Status(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	return r
}
