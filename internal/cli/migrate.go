package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"time-attack-quiz/internal/config"
	"time-attack-quiz/internal/infra/sqlstore"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openSQL(cfg)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("neither postgres.url nor sqlite.path configured")
	}
	defer db.Close()
	return sqlstore.Migrate(ctx, db)
}

// openSQL opens the configured SQL database, preferring Postgres. It returns
// nil when none is configured.
func openSQL(cfg config.Config) (*bun.DB, error) {
	switch {
	case cfg.Postgres.URL != "":
		return sqlstore.OpenPostgres(cfg.Postgres.URL), nil
	case cfg.SQLite.Path != "":
		return sqlstore.OpenSQLite(cfg.SQLite.Path)
	}
	return nil, nil
}
