package scheduler

import (
	"context"
	"errors"

	"github.com/aristath/lessons/internal/domain"
	"github.com/rs/zerolog"
)

// MinerRunner runs the batch miner
type MinerRunner interface {
	Run(ctx context.Context, book *string) (*domain.MinerRun, error)
}

// MinerJob runs the miner over every book
type MinerJob struct {
	log    zerolog.Logger
	runner MinerRunner
}

// NewMinerJob creates a new MinerJob
func NewMinerJob(runner MinerRunner) *MinerJob {
	return &MinerJob{
		log:    zerolog.Nop(),
		runner: runner,
	}
}

// SetLogger sets the logger for the job
func (j *MinerJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *MinerJob) Name() string {
	return "mine_lessons"
}

// Run executes one miner run. A run already in flight is not an error.
func (j *MinerJob) Run() error {
	run, err := j.runner.Run(context.Background(), nil)
	if errors.Is(err, domain.ErrMinerBusy) {
		j.log.Info().Msg("Miner already running, skipping scheduled run")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", run.RunID).
		Int("overrides_created", run.OverridesCreated).
		Msg("Scheduled miner run completed")
	return nil
}
