package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/stream-registry-service/internal/config"
	"github.com/psds-microservice/stream-registry-service/internal/database"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply SQL seeds (default stream types)",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := database.RunSeeds(db); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
