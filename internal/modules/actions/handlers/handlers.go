// Package handlers provides HTTP handlers for the action event recorder.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/actions"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles action recorder HTTP requests
type Handler struct {
	recorder *actions.Recorder
	log      zerolog.Logger
}

// NewHandler creates a new actions handler
func NewHandler(recorder *actions.Recorder, log zerolog.Logger) *Handler {
	return &Handler{
		recorder: recorder,
		log:      log.With().Str("handler", "actions").Logger(),
	}
}

// EventResponse is the wire shape of an action event
type EventResponse struct {
	EventID    string             `json:"event_id"`
	Book       string             `json:"book"`
	PatternKey string             `json:"pattern_key"`
	Category   string             `json:"action_category"`
	Scope      map[string]string  `json:"scope"`
	Controls   map[string]float64 `json:"controls"`
	Outcome    *float64           `json:"outcome"`
	ResolvedAt *time.Time         `json:"resolved_at"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toResponse(e *domain.ActionEvent) EventResponse {
	return EventResponse{
		EventID:    e.EventID,
		Book:       e.Book,
		PatternKey: string(e.PatternKey),
		Category:   string(e.Category),
		Scope:      e.Scope.Map(),
		Controls:   e.Controls,
		Outcome:    e.Outcome,
		ResolvedAt: e.ResolvedAt,
		CreatedAt:  e.CreatedAt,
	}
}

// HandleRecord appends an action event
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req actions.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.recorder.Record(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"event_id": id})
}

// HandleResolveOutcome attaches the realized outcome to an event
func (h *Handler) HandleResolveOutcome(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	var body struct {
		Outcome *float64 `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Outcome == nil {
		h.writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}

	if err := h.recorder.ResolveOutcome(r.Context(), eventID, *body.Outcome); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": eventID,
		"resolved": true,
	})
}

// HandleGetEvent returns one event
func (h *Handler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.recorder.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(e))
}

// HandleCount returns total and resolved counts, optionally for one book
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	var book *string
	if b := r.URL.Query().Get("book"); b != "" {
		book = &b
	}

	counts, err := h.recorder.Count(r.Context(), book)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var resolved *domain.AlreadyResolvedError

	switch {
	case errors.As(err, &validation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &resolved):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrEventNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("Action request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
