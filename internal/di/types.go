// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/lessons/internal/database"
	"github.com/aristath/lessons/internal/events"
	"github.com/aristath/lessons/internal/metrics"
	"github.com/aristath/lessons/internal/modules/actions"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/internal/modules/lessons"
	"github.com/aristath/lessons/internal/modules/miner"
	"github.com/aristath/lessons/internal/modules/overrides"
	"github.com/aristath/lessons/internal/scheduler"
)

// Container holds all dependencies for the application.
//
// Databases:
//   - actions.db: append-only action log (ledger profile)
//   - learning.db: stats, edge history, override snapshots, miner runs
type Container struct {
	// Databases
	ActionsDB  *database.DB
	LearningDB *database.DB

	// Repositories
	ActionsRepo   *actions.Repository
	StatsRepo     *aggregation.Repository
	OverridesRepo *overrides.Repository
	RunRepo       *miner.RunRepository

	// Services
	EventManager    *events.Manager
	Metrics         *metrics.Registry
	Recorder        *actions.Recorder
	OverrideStore   *overrides.Store
	OverrideService *overrides.Service
	Aggregator      *aggregation.Aggregator
	Generator       *lessons.Generator
	Miner           *miner.Runner
}

// JobInstances holds the scheduled job instances for manual triggering
type JobInstances struct {
	Miner               *scheduler.MinerJob
	CheckWALCheckpoints *scheduler.CheckWALCheckpointsJob
	CheckCoreDatabases  *scheduler.CheckCoreDatabasesJob
}

// All returns every job instance
func (j *JobInstances) All() []scheduler.Job {
	return []scheduler.Job{j.Miner, j.CheckWALCheckpoints, j.CheckCoreDatabases}
}

// Close closes both databases
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.ActionsDB, c.LearningDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
