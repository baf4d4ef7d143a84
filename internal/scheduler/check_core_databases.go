package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/lessons/internal/database"
	"github.com/rs/zerolog"
)

// CheckCoreDatabasesJob verifies integrity of the action log and learning databases
type CheckCoreDatabasesJob struct {
	log        zerolog.Logger
	actionsDB  *database.DB
	learningDB *database.DB
	timeout    time.Duration
}

// NewCheckCoreDatabasesJob creates a new CheckCoreDatabasesJob
func NewCheckCoreDatabasesJob(actionsDB, learningDB *database.DB) *CheckCoreDatabasesJob {
	return &CheckCoreDatabasesJob{
		log:        zerolog.Nop(),
		actionsDB:  actionsDB,
		learningDB: learningDB,
		timeout:    time.Minute,
	}
}

// SetLogger sets the logger for the job
func (j *CheckCoreDatabasesJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *CheckCoreDatabasesJob) Name() string {
	return "check_core_databases"
}

// Run executes the check core databases job
func (j *CheckCoreDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	var failed []string
	for _, db := range []*database.DB{j.actionsDB, j.learningDB} {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			failed = append(failed, db.Name())
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("Database healthy")
	}

	if len(failed) > 0 {
		return fmt.Errorf("database health check failed for %v", failed)
	}
	return nil
}
