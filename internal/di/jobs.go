package di

import (
	"fmt"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/scheduler"
	"github.com/rs/zerolog"
)

// Maintenance schedules (cron with seconds)
const (
	walCheckpointSchedule = "0 */15 * * * *"
	coreDatabasesSchedule = "0 0 4 * * *"
)

// RegisterJobs creates job instances with their loggers
func RegisterJobs(container *Container, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Miner == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	jobs := &JobInstances{
		Miner:               scheduler.NewMinerJob(container.Miner),
		CheckWALCheckpoints: scheduler.NewCheckWALCheckpointsJob(container.ActionsDB, container.LearningDB),
		CheckCoreDatabases:  scheduler.NewCheckCoreDatabasesJob(container.ActionsDB, container.LearningDB),
	}
	jobs.Miner.SetLogger(log.With().Str("job", jobs.Miner.Name()).Logger())
	jobs.CheckWALCheckpoints.SetLogger(log.With().Str("job", jobs.CheckWALCheckpoints.Name()).Logger())
	jobs.CheckCoreDatabases.SetLogger(log.With().Str("job", jobs.CheckCoreDatabases.Name()).Logger())

	return jobs, nil
}

// ScheduleJobs registers the jobs with the scheduler. The miner is skipped when disabled.
func ScheduleJobs(s *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	if cfg.Miner.Enabled {
		if err := s.AddJob(cfg.Miner.Schedule, jobs.Miner); err != nil {
			return fmt.Errorf("failed to schedule miner: %w", err)
		}
	}
	if err := s.AddJob(walCheckpointSchedule, jobs.CheckWALCheckpoints); err != nil {
		return fmt.Errorf("failed to schedule WAL checkpoints: %w", err)
	}
	if err := s.AddJob(coreDatabasesSchedule, jobs.CheckCoreDatabases); err != nil {
		return fmt.Errorf("failed to schedule database checks: %w", err)
	}
	return nil
}
