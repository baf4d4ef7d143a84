// Package handlers provides HTTP handlers for override lookup and management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/internal/modules/overrides"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles override HTTP requests
type Handler struct {
	service   *overrides.Service
	repo      *overrides.Repository
	statsRepo *aggregation.Repository
	now       func() time.Time
	log       zerolog.Logger
}

// NewHandler creates a new overrides handler
func NewHandler(
	service *overrides.Service,
	repo *overrides.Repository,
	statsRepo *aggregation.Repository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:   service,
		repo:      repo,
		statsRepo: statsRepo,
		now:       time.Now,
		log:       log.With().Str("handler", "overrides").Logger(),
	}
}

// MatchRequest is the body of POST /match
type MatchRequest struct {
	Book       string             `json:"book,omitempty"`
	PatternKey string             `json:"pattern_key"`
	Category   string             `json:"action_category"`
	Scope      map[string]string  `json:"scope"`
	Controls   map[string]float64 `json:"controls,omitempty"`
}

// MatchResponse carries the lever deltas and, when controls were sent, the adjusted controls
type MatchResponse struct {
	domain.LeverDeltas
	SnapshotVersion int64              `json:"snapshot_version"`
	Controls        map[string]float64 `json:"controls,omitempty"`
}

// OverrideResponse is the wire shape of an override
type OverrideResponse struct {
	OverrideID        string            `json:"override_id"`
	Book              string            `json:"book"`
	PatternKey        string            `json:"pattern_key"`
	Category          string            `json:"action_category"`
	SubsetMask        uint16            `json:"scope_subset_mask"`
	SubsetValues      map[string]string `json:"scope_subset_values"`
	Levers            domain.LeverSet   `json:"levers"`
	Edge              float64           `json:"edge"`
	Strength          float64           `json:"strength"`
	EffectiveStrength float64           `json:"effective_strength"`
	Active            bool              `json:"active"`
	HalfLifeDays      float64           `json:"decay_half_life_days"`
	Enabled           bool              `json:"enabled"`
	SampleCount       int               `json:"sample_count"`
	ReinforcedAt      time.Time         `json:"reinforced_at"`
	Merged            []string          `json:"merged"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (h *Handler) toResponse(o domain.Override, now time.Time) OverrideResponse {
	merged := o.Merged
	if merged == nil {
		merged = []string{}
	}
	return OverrideResponse{
		OverrideID:        o.OverrideID,
		Book:              o.Book,
		PatternKey:        string(o.PatternKey),
		Category:          string(o.Category),
		SubsetMask:        uint16(o.Subset.Mask),
		SubsetValues:      o.Subset.Map(),
		Levers:            o.Levers,
		Edge:              o.Edge,
		Strength:          o.Strength,
		EffectiveStrength: o.EffectiveStrength(now),
		Active:            o.Active(now, h.service.Store().Floor()),
		HalfLifeDays:      o.HalfLife.Hours() / 24,
		Enabled:           o.Enabled,
		SampleCount:       o.SampleCount,
		ReinforcedAt:      o.ReinforcedAt,
		Merged:            merged,
		CreatedAt:         o.CreatedAt,
	}
}

// HandleMatch returns the lever deltas for one decision
func (h *Handler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q, err := parseQuery(req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	deltas, snap := h.service.Store().MatchSnapshot(q)
	resp := MatchResponse{
		LeverDeltas:     deltas,
		SnapshotVersion: snap.Version,
	}
	if req.Controls != nil {
		resp.Controls = domain.Controls(req.Controls).Apply(resp.LeverDeltas)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func parseQuery(req MatchRequest) (overrides.Query, error) {
	patternKey, err := domain.ParsePatternKey(req.PatternKey)
	if err != nil {
		return overrides.Query{}, err
	}
	category, err := domain.ParseActionCategory(req.Category)
	if err != nil {
		return overrides.Query{}, err
	}
	scope, err := domain.ParseScope(req.Scope)
	if err != nil {
		return overrides.Query{}, err
	}
	return overrides.Query{
		Book:       req.Book,
		PatternKey: patternKey,
		Category:   category,
		Scope:      scope,
	}, nil
}

// HandleListOverrides returns the current snapshot, optionally filtered
func (h *Handler) HandleListOverrides(w http.ResponseWriter, r *http.Request) {
	snap := h.service.Store().Current()
	now := h.now()

	book := r.URL.Query().Get("book")
	patternKey := r.URL.Query().Get("pattern_key")
	category := r.URL.Query().Get("action_category")
	activeOnly := r.URL.Query().Get("active") == "true"

	list := make([]OverrideResponse, 0, snap.Len())
	for _, o := range snap.Overrides {
		if book != "" && o.Book != book {
			continue
		}
		if patternKey != "" && string(o.PatternKey) != patternKey {
			continue
		}
		if category != "" && string(o.Category) != category {
			continue
		}
		resp := h.toResponse(o, now)
		if activeOnly && !resp.Active {
			continue
		}
		list = append(list, resp)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":      snap.Version,
		"published_at": snap.PublishedAt,
		"overrides":    list,
	})
}

// HandleGetOverride returns one override of the current snapshot
func (h *Handler) HandleGetOverride(w http.ResponseWriter, r *http.Request) {
	o, ok := h.service.Store().Current().Get(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrOverrideNotFound.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.toResponse(o, h.now()))
}

// HandleSetEnabled enables or disables an override
func (h *Handler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	o, err := h.service.SetEnabled(r.Context(), chi.URLParam(r, "id"), *body.Enabled)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.toResponse(o, h.now()))
}

// HandleListSnapshots returns recent snapshot versions
func (h *Handler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := h.repo.ListSnapshots(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": infos})
}

// StatResponse is the wire shape of a PatternScopeStat
type StatResponse struct {
	Book         string            `json:"book"`
	PatternKey   string            `json:"pattern_key"`
	Category     string            `json:"action_category"`
	SubsetMask   uint16            `json:"scope_subset_mask"`
	SubsetValues map[string]string `json:"scope_subset_values"`
	N            int               `json:"n"`
	MeanEdge     float64           `json:"mean_edge"`
	EdgeRaw      float64           `json:"edge_raw"`
	Variance     float64           `json:"variance"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// HandleListStats returns persisted subset statistics
func (h *Handler) HandleListStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsRepo.ListStats(r.Context(), aggregation.StatsFilter{
		Book:       r.URL.Query().Get("book"),
		PatternKey: r.URL.Query().Get("pattern_key"),
		Category:   r.URL.Query().Get("action_category"),
		Limit:      queryInt(r, "limit", 500),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]StatResponse, len(stats))
	for i, s := range stats {
		out[i] = StatResponse{
			Book:         s.Book,
			PatternKey:   string(s.PatternKey),
			Category:     string(s.Category),
			SubsetMask:   uint16(s.Subset.Mask),
			SubsetValues: s.Subset.Map(),
			N:            s.N,
			MeanEdge:     s.MeanEdge,
			EdgeRaw:      s.EdgeRaw,
			Variance:     s.Variance,
			UpdatedAt:    s.UpdatedAt,
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"stats": out})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOverrideNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("Override request failed")
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
