package cmd

import (
	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Create the database if needed and run all migrations",
	Run: func(cmd *cobra.Command, args []string) {
		initCommandFlags(cmd)
		cfg := config.NewConfig()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		if _, err := connectDatabase(cfg, l); err != nil {
			l.Sugar().Fatalw("Failed to migrate database", zap.Error(err))
		}
		l.Sugar().Info("Database migrated")
	},
}
