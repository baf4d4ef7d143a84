package di

import (
	"fmt"

	"github.com/aristath/lessons/internal/modules/actions"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/internal/modules/miner"
	"github.com/aristath/lessons/internal/modules/overrides"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.ActionsRepo = actions.NewRepository(container.ActionsDB.Conn(), log)
	container.StatsRepo = aggregation.NewRepository(container.LearningDB.Conn(), log)
	container.OverridesRepo = overrides.NewRepository(container.LearningDB.Conn(), log)
	container.RunRepo = miner.NewRunRepository(container.LearningDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}
