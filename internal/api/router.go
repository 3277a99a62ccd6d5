package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/assetgraph/internal/assetservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *assetservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	fh := NewFileHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Live graph.
	r.Get("/assets", h.FindAssets)
	r.Post("/assets/query", h.QueryAssets)
	r.Get("/assets/*", h.GetAsset)
	r.Put("/assets/*", h.UpdateAsset)
	r.Patch("/assets/*", h.MoveAsset)
	r.Delete("/assets/*", h.RemoveAsset)

	r.Get("/relations", h.FindRelations)
	r.Post("/relations/query", h.QueryRelations)
	r.Patch("/relations/{id}", h.UpdateRelation)
	r.Delete("/relations/{id}", h.DetachRelation)

	r.Post("/populate", h.Populate)
	r.Post("/write", h.WriteAll)

	// Snapshot index.
	r.Get("/index/assets", h.ListAssets)
	r.Get("/incoming/*", h.Incoming)
	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)

	// Site files.
	r.Post("/files", fh.Upload)
	r.Get("/raw/*", fh.Raw)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
