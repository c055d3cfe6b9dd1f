package migrations

import (
	_ "embed"

	"github.com/teller-protocol/teller-protocol-v2/internal/db"
	"github.com/teller-protocol/teller-protocol-v2/pkg/config"
)

//go:embed 001_initial.sql
var mig001 string

// RunMigrations runs all migrations for the indexer database.
func RunMigrations(cfg config.DatabaseConfig) error {
	migrations := []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(cfg.Path, migrations)
}
