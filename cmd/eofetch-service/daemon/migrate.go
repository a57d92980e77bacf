package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

type migrateConfig struct {
	dir  string
	down bool
}

func installMigrateCmd(app *App) {
	var cfg migrateConfig

	migrateCmd := &cobra.Command{
		Use:   "migrate [MIGRATIONS-DIR]",
		Short: "Create or update the PostgreSQL download queue schema",
		Long: `Run the migration scripts creating or updating the schema of the PostgreSQL download queue.
The scripts are read from MIGRATIONS-DIR, or from --migrations-dir when no argument is given.
The database is selected with the --db-* flags.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = false
			if len(args) == 1 {
				cfg.dir = args[0]
			}
			if cfg.dir == "" {
				return errors.New("no migrations directory provided")
			}

			fileInfo, err := os.Stat(cfg.dir)
			if err != nil {
				return fmt.Errorf("the provided path to migration scripts is not valid: %v", err)
			}
			if !fileInfo.IsDir() {
				return fmt.Errorf("%s should be a directory of migration scripts, not a file", cfg.dir)
			}

			app.cmd.SilenceUsage = true
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.config.MigrationsDir = cfg.dir
			return app.migrateRun(cfg.down)
		},
	}
	migrateCmd.Flags().StringVar(&cfg.dir, "migrations-dir", "", "directory of the migration scripts")
	migrateCmd.Flags().BoolVar(&cfg.down, "down", false, "revert every migration instead of applying them")
	addDBFlags(migrateCmd, &app.config.DBconfig)
	app.cmd.AddCommand(migrateCmd)
}

func (a App) migrateRun(down bool) (err error) {
	slog.Info("Migrating download queue schema", "dir", a.config.MigrationsDir, "host", a.config.DBconfig.Host, "down", down)

	m, err := migrate.New("file://"+a.config.MigrationsDir, a.config.DBconfig.URI("pgx"))
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %v", err)
	}
	defer func() {
		sErr, dbErr := m.Close()
		if sErr != nil {
			slog.Error("Failed to close migration source", "error", sErr)
		}
		if dbErr != nil {
			slog.Error("Failed to close database connection", "error", dbErr)
		}
	}()

	migrateFn, action := m.Up, "apply"
	if down {
		migrateFn, action = m.Down, "revert"
	}
	if err := migrateFn(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to %s migrations: %v", action, err)
		}
		slog.Info("Download queue schema is already up to date")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("Download queue schema has no migration applied")
	case err != nil:
		return fmt.Errorf("could not read schema version: %v", err)
	default:
		slog.Info("Download queue schema migrated", "version", version, "dirty", dirty)
	}
	return nil
}
