package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/symphony/internal/config"
	"github.com/aristath/symphony/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the history and artifacts
// databases under the data directory.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// history.db - daily bars
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    database.History,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	container.HistoryDB = historyDB

	// artifacts.db - cycle records, the audit trail of every rebalance
	artifactsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "artifacts.db"),
		Profile: database.ProfileLedger,
		Name:    database.Artifacts,
	})
	if err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to initialize artifacts database: %w", err)
	}
	container.ArtifactsDB = artifactsDB

	for _, db := range []*database.DB{historyDB, artifactsDB} {
		if err := db.Migrate(); err != nil {
			historyDB.Close()
			artifactsDB.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
