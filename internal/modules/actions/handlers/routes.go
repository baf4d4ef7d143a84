package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all action recorder routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/actions", func(r chi.Router) {
		r.Post("/", h.HandleRecord)
		r.Get("/count", h.HandleCount)
		r.Get("/{id}", h.HandleGetEvent)
		r.Post("/{id}/outcome", h.HandleResolveOutcome)
	})
}
