package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers override, match and stats routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/match", h.HandleMatch)
	r.Get("/stats", h.HandleListStats)

	r.Route("/overrides", func(r chi.Router) {
		r.Get("/", h.HandleListOverrides)
		r.Get("/snapshots", h.HandleListSnapshots)
		r.Get("/{id}", h.HandleGetOverride)
		r.Put("/{id}/enabled", h.HandleSetEnabled)
	})
}
