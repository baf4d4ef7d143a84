package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers miner routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/miner/runs", func(r chi.Router) {
		r.Post("/", h.HandleTriggerRun)
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", h.HandleGetRun)
	})
}
