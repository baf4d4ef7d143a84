package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/lessons/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockJob struct {
	name  string
	runFn func() error
	calls int
}

func (m *mockJob) Run() error {
	m.calls++
	if m.runFn != nil {
		return m.runFn()
	}
	return nil
}

func (m *mockJob) Name() string {
	return m.name
}

type mockMinerRunner struct {
	runFn func(ctx context.Context, book *string) (*domain.MinerRun, error)
}

func (m *mockMinerRunner) Run(ctx context.Context, book *string) (*domain.MinerRun, error) {
	return m.runFn(ctx, book)
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("0 30 3 * * *", &mockJob{name: "nightly"}))
	require.NoError(t, s.AddJob("@every 30s", &mockJob{name: "frequent"}))
	assert.Error(t, s.AddJob("not a schedule", &mockJob{name: "broken"}))
	assert.Equal(t, 2, s.Jobs())

	s.Start()
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	boom := errors.New("boom")
	job := &mockJob{name: "failing", runFn: func() error { return boom }}

	assert.ErrorIs(t, s.RunNow(job), boom)
	assert.Equal(t, 1, job.calls)

	// Scheduled execution swallows job errors
	s.execute(job)
	assert.Equal(t, 2, job.calls)
}

func TestMinerJob_Run(t *testing.T) {
	var gotBook *string
	called := false
	job := NewMinerJob(&mockMinerRunner{runFn: func(ctx context.Context, book *string) (*domain.MinerRun, error) {
		called = true
		gotBook = book
		return &domain.MinerRun{RunID: "run-1", Status: domain.MinerRunCompleted}, nil
	}})

	assert.Equal(t, "mine_lessons", job.Name())
	require.NoError(t, job.Run())
	assert.True(t, called)
	assert.Nil(t, gotBook, "scheduled runs cover every book")
}

func TestMinerJob_BusyIsNotAnError(t *testing.T) {
	job := NewMinerJob(&mockMinerRunner{runFn: func(ctx context.Context, book *string) (*domain.MinerRun, error) {
		return nil, domain.ErrMinerBusy
	}})
	assert.NoError(t, job.Run())
}

func TestMinerJob_FailurePropagates(t *testing.T) {
	failure := &domain.MinerRunFailure{RunID: "run-2", Stage: "scan", Err: errors.New("boom")}
	job := NewMinerJob(&mockMinerRunner{runFn: func(ctx context.Context, book *string) (*domain.MinerRun, error) {
		return &domain.MinerRun{RunID: "run-2", Status: domain.MinerRunFailed}, failure
	}})

	var got *domain.MinerRunFailure
	assert.True(t, errors.As(job.Run(), &got))
}
