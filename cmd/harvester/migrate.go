package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

// connectTimeout bounds connecting to the database from the CLI.
const connectTimeout = 30 * time.Second

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the artifact database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, root, func(m *database.Migrator) error {
				return m.Up()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, root, func(m *database.Migrator) error {
				return m.Down()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, root, func(*database.Migrator) error { return nil })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without migrating, to recover from a failed migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return domain.NewConfigurationError("version", fmt.Sprintf("invalid version %q", args[0]))
			}
			return withMigrator(cmd, root, func(m *database.Migrator) error {
				return m.Force(version)
			})
		},
	})
	return cmd
}

// withMigrator connects to the configured database, runs fn and prints
// the resulting schema version.
func withMigrator(cmd *cobra.Command, root *rootOptions, fn func(*database.Migrator) error) error {
	cfg, err := config.Load(root.configFile)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Logging).With().Str("component", "migrate").Logger()

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()

	db, err := openDatabase(ctx, &cfg.Database, false, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, logger)
	if err != nil {
		return domain.NewStoreError("create migrator", "postgres", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := fn(migrator); err != nil {
		return domain.NewStoreError("migrate", "postgres", err)
	}
	return printVersion(cmd.OutOrStdout(), migrator)
}

func printVersion(out io.Writer, m *database.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		fmt.Fprintln(out, "schema version: none")
		return nil
	}
	if dirty {
		fmt.Fprintf(out, "schema version: %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(out, "schema version: %d\n", version)
	return nil
}

// openDatabase connects to PostgreSQL and optionally applies pending
// migrations. Failures are store errors.
func openDatabase(ctx context.Context, cfg *config.DatabaseConfig, migrate bool, logger zerolog.Logger) (*database.DB, error) {
	db, err := database.New(ctx, cfg, logger)
	if err != nil {
		return nil, domain.NewStoreError("connect", "postgres", err)
	}
	if !migrate {
		return db, nil
	}

	migrator, err := database.NewMigrator(db, logger)
	if err != nil {
		db.Close()
		return nil, domain.NewStoreError("create migrator", "postgres", err)
	}
	err = migrator.Up()
	if closeErr := migrator.Close(); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("failed to close migrator")
	}
	if err != nil {
		db.Close()
		return nil, domain.NewStoreError("migrate", "postgres", err)
	}
	return db, nil
}
