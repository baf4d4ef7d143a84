package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/lessons/internal/database"
	"github.com/aristath/lessons/internal/modules/overrides"
	"github.com/aristath/lessons/internal/scheduler"
)

// SystemHandlers serves process, database and job endpoints
type SystemHandlers struct {
	log        zerolog.Logger
	actionsDB  *database.DB
	learningDB *database.DB
	store      *overrides.Store
	startedAt  time.Time

	mu   sync.RWMutex
	jobs map[string]scheduler.Job
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, actionsDB, learningDB *database.DB, store *overrides.Store) *SystemHandlers {
	return &SystemHandlers{
		log:        log.With().Str("handler", "system").Logger(),
		actionsDB:  actionsDB,
		learningDB: learningDB,
		store:      store,
		startedAt:  time.Now(),
		jobs:       make(map[string]scheduler.Job),
	}
}

// SetJobs registers jobs for manual triggering
func (h *SystemHandlers) SetJobs(jobs ...scheduler.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, job := range jobs {
		if job != nil {
			h.jobs[job.Name()] = job
		}
	}
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status          string    `json:"status"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	Goroutines      int       `json:"goroutines"`
	SnapshotVersion int64     `json:"snapshot_version"`
	Overrides       int       `json:"overrides"`
	PublishedAt     time.Time `json:"published_at"`
}

// HandleSystemStatus returns process health and the current snapshot
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()
	snap := h.store.Current()

	h.writeJSON(w, http.StatusOK, SystemStatusResponse{
		Status:          "ok",
		UptimeSeconds:   time.Since(h.startedAt).Seconds(),
		CPUPercent:      cpuPercent,
		MemoryPercent:   memPercent,
		Goroutines:      runtime.NumGoroutine(),
		SnapshotVersion: snap.Version,
		Overrides:       snap.Len(),
		PublishedAt:     snap.PublishedAt,
	})
}

// HandleDatabaseStats returns size and page statistics for both databases
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := []*database.Stats{}
	for _, db := range []*database.DB{h.actionsDB, h.learningDB} {
		if db == nil {
			continue
		}
		s, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		stats = append(stats, s)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases":    stats,
		"last_checked": time.Now().Format(time.RFC3339),
	})
}

// HandleListJobs returns the names of triggerable jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": names})
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h.mu.RLock()
	job, ok := h.jobs[name]
	h.mu.RUnlock()
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job " + name})
		return
	}

	h.log.Info().Str("job", name).Msg("Manually triggering job")
	if err := job.Run(); err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Job failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "failed", "job": name, "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "job": name})
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
