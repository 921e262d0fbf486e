package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chronicle/collab/internal/config"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/store"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply (or roll back) the PostgreSQL schema",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back every applied migration")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	if migrateDown {
		if err := store.RollbackMigrations(ctx, db, store.Migrations()); err != nil {
			return err
		}
		logger.Info("migrations rolled back")
		return nil
	}
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}
