// Package handlers provides HTTP handlers for miner runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aristath/lessons/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Runner is the miner surface the handlers need
type Runner interface {
	Run(ctx context.Context, book *string) (*domain.MinerRun, error)
	Get(ctx context.Context, runID string) (*domain.MinerRun, error)
	List(ctx context.Context, limit int) ([]domain.MinerRun, error)
}

// Handler handles miner HTTP requests
type Handler struct {
	runner Runner
	log    zerolog.Logger
}

// NewHandler creates a new miner handler
func NewHandler(runner Runner, log zerolog.Logger) *Handler {
	return &Handler{
		runner: runner,
		log:    log.With().Str("handler", "miner").Logger(),
	}
}

// HandleTriggerRun runs the miner synchronously and returns the run record.
// The run outlives a disconnecting client.
func (h *Handler) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Book *string `json:"book"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := h.runner.Run(context.WithoutCancel(r.Context()), body.Book)
	if errors.Is(err, domain.ErrMinerBusy) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	var failure *domain.MinerRunFailure
	if errors.As(err, &failure) {
		h.writeJSON(w, http.StatusInternalServerError, run)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to start miner run")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusCreated, run)
}

// HandleListRuns returns recent runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	runs, err := h.runner.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list miner runs")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// HandleGetRun returns one run
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrMinerRunNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get miner run")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
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
