package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/events"
	"github.com/aristath/lessons/internal/metrics"
	"github.com/aristath/lessons/internal/modules/actions"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/internal/modules/lessons"
	"github.com/aristath/lessons/internal/modules/miner"
	"github.com/aristath/lessons/internal/modules/overrides"
	"github.com/rs/zerolog"
)

// startupTimeout bounds snapshot loading and stale run recovery
const startupTimeout = 30 * time.Second

// InitializeServices creates services, wires events and metrics, and loads the current snapshot
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.EventManager = events.NewManager(log)
	container.Metrics = metrics.NewRegistry()

	// Recorder
	container.Recorder = actions.NewRecorder(container.ActionsRepo, log)
	container.Recorder.SetEventEmitter(container.EventManager)
	container.Recorder.SetObserver(container.Metrics)

	// Override store and publication
	container.OverrideStore = overrides.NewStore(cfg.Learning.StrengthFloor)
	container.OverrideStore.SetObserver(container.Metrics)
	container.OverrideService = overrides.NewService(
		container.LearningDB.Conn(),
		container.OverridesRepo,
		container.OverrideStore,
		log,
	)
	container.OverrideService.SetEventEmitter(container.EventManager)
	container.OverrideService.SetObserver(container.Metrics)

	// Miner pipeline
	container.Aggregator = aggregation.New(aggregation.ParamsFromConfig(cfg.Learning, cfg.Miner.Workers), log)
	container.Generator = lessons.NewGenerator(lessons.ParamsFromConfig(cfg.Learning), log)
	container.Miner = miner.NewRunner(
		container.ActionsRepo,
		container.RunRepo,
		container.StatsRepo,
		container.Aggregator,
		container.Generator,
		container.OverrideService,
		cfg.Miner.Timeout,
		log,
	)
	container.Miner.SetEventEmitter(container.EventManager)
	container.Miner.SetObserver(container.Metrics)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := container.OverrideService.Load(ctx); err != nil {
		return fmt.Errorf("failed to load override snapshot: %w", err)
	}
	if err := container.Miner.RecoverStale(ctx); err != nil {
		return fmt.Errorf("failed to recover stale miner runs: %w", err)
	}

	log.Info().Msg("Services initialized")
	return nil
}
