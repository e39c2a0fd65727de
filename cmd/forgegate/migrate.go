package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgegate/forgegate/internal/config"
	"github.com/forgegate/forgegate/internal/store"
	"github.com/spf13/cobra"
)

// =============================================================================
// Migrate Command
// =============================================================================

// buildMigrateCmd creates the "migrate" command group for schema
// migrations and the store maintenance/purge operation (§4.1, SPEC_FULL
// §4 "Maintenance/purge operation").
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage persistence-store migrations",
		Long: `Apply, roll back, or inspect the embedded sqlite schema migrations.

Every forgegate process applies pending migrations automatically on
startup (store.Open), so this command is mainly for operators who want to
migrate ahead of a deploy, roll back, or purge old rows out of band.`,
	}

	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var (
		configPath      string
		purgeOlderThan  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations, optionally purging old rows",
		Long: `Apply every pending migration against the configured sqlite database.

--purge-older-than additionally deletes requests (and their cascaded
messages/tool_calls) older than the given duration and reclaims the
freed space with VACUUM (§4.1's "purges records older than N days and
rebuilds free space").`,
		Example: `  # Apply all pending migrations
  forgegate migrate up --config forgegate.yaml

  # Also purge anything older than 90 days
  forgegate migrate up --purge-older-than 2160h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context(), configPath, purgeOlderThan)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "forgegate.yaml", "Path to YAML configuration file")
	cmd.Flags().DurationVar(&purgeOlderThan, "purge-older-than", 0, "Purge requests older than this duration (0 disables)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the last N applied migrations (0 rolls back everything).

Use with caution: rolling back a migration that dropped a column or
table loses the data in it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd.Context(), configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "forgegate.yaml", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back (0 rolls back everything)")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "forgegate.yaml", "Path to YAML configuration file")
	return cmd
}

// openMigrationDB opens the sqlite database at cfg.Database.Path with the
// same DSN store.Open uses, without running store.Open's own migration
// pass (the migrate subcommands drive migrations directly).
func openMigrationDB(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Database.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func runMigrateUp(ctx context.Context, configPath string, purgeOlderThan time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("running database migrations", "path", cfg.Database.Path)
	if err := store.Migrate(db); err != nil {
		return err
	}
	slog.Info("migrations up to date")

	if purgeOlderThan <= 0 {
		return nil
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("reopen store for purge: %w", err)
	}
	defer s.Close()

	cutoff := time.Now().Add(-purgeOlderThan)
	n, err := s.Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	slog.Info("purged old requests", "cutoff", cutoff.Format(time.RFC3339), "rows_removed", n)
	return nil
}

func runMigrateDown(ctx context.Context, configPath string, steps int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Warn("rolling back migrations", "path", cfg.Database.Path, "steps", steps)
	if err := store.MigrateDown(db, steps); err != nil {
		return err
	}
	slog.Info("migrations rolled back")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := store.MigrateVersion(db)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "schema version: %d\n", version)
	fmt.Fprintf(out, "dirty: %v\n", dirty)
	return nil
}
