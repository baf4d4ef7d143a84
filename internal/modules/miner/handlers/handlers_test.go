package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/lessons/internal/domain"
	testingpkg "github.com/aristath/lessons/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	runFn  func(ctx context.Context, book *string) (*domain.MinerRun, error)
	runs   map[string]domain.MinerRun
	gotRun *string
}

func (f *fakeRunner) Run(ctx context.Context, book *string) (*domain.MinerRun, error) {
	f.gotRun = book
	return f.runFn(ctx, book)
}

func (f *fakeRunner) Get(ctx context.Context, runID string) (*domain.MinerRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrMinerRunNotFound)
	}
	return &run, nil
}

func (f *fakeRunner) List(ctx context.Context, limit int) ([]domain.MinerRun, error) {
	out := []domain.MinerRun{}
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func completedRun() domain.MinerRun {
	version := int64(3)
	completed := testingpkg.FixtureEpoch
	return domain.MinerRun{
		RunID:           "run-1",
		StartedAt:       testingpkg.FixtureEpoch,
		CompletedAt:     &completed,
		Status:          domain.MinerRunCompleted,
		EventsScanned:   60,
		SnapshotVersion: &version,
	}
}

func router(f *fakeRunner) http.Handler {
	r := chi.NewRouter()
	NewHandler(f, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func TestHandleTriggerRun(t *testing.T) {
	f := &fakeRunner{runFn: func(ctx context.Context, book *string) (*domain.MinerRun, error) {
		run := completedRun()
		run.Book = book
		return &run, nil
	}}

	rec := httptest.NewRecorder()
	router(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/miner/runs", bytes.NewBufferString(`{"book":"alpha"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.gotRun)
	assert.Equal(t, "alpha", *f.gotRun)

	var run domain.MinerRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.MinerRunCompleted, run.Status)
	assert.Equal(t, 60, run.EventsScanned)

	rec = httptest.NewRecorder()
	router(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/miner/runs", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, f.gotRun)
}

func TestHandleTriggerRun_Errors(t *testing.T) {
	busy := &fakeRunner{runFn: func(ctx context.Context, book *string) (*domain.MinerRun, error) {
		return nil, domain.ErrMinerBusy
	}}
	rec := httptest.NewRecorder()
	router(busy).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/miner/runs", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	failed := &fakeRunner{runFn: func(ctx context.Context, book *string) (*domain.MinerRun, error) {
		msg := "boom"
		run := &domain.MinerRun{RunID: "run-2", Status: domain.MinerRunFailed, Error: &msg}
		return run, &domain.MinerRunFailure{RunID: "run-2", Stage: "scan", Err: errors.New(msg)}
	}}
	rec = httptest.NewRecorder()
	router(failed).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/miner/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)

	rec = httptest.NewRecorder()
	router(busy).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/miner/runs", bytes.NewBufferString(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAndListRuns(t *testing.T) {
	f := &fakeRunner{runs: map[string]domain.MinerRun{"run-1": completedRun()}}
	h := router(f)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/miner/runs/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"snapshot_version":3`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/miner/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/miner/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []domain.MinerRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 1)
}
