package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. actions.db - Append-only action log, the miner's only input
	actionsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, database.NameActions+".db"),
		Profile: database.ProfileLedger,
		Name:    database.NameActions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize actions database: %w", err)
	}
	container.ActionsDB = actionsDB

	// 2. learning.db - Derived state, rebuilt by every miner run
	learningDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, database.NameLearning+".db"),
		Profile: database.ProfileStandard,
		Name:    database.NameLearning,
	})
	if err != nil {
		actionsDB.Close()
		return nil, fmt.Errorf("failed to initialize learning database: %w", err)
	}
	container.LearningDB = learningDB

	for _, db := range []*database.DB{actionsDB, learningDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized and schemas applied")

	return container, nil
}
