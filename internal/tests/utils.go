package tests

import (
	"os"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/logger"
	"go.uber.org/zap"
)

// GetLogger returns a logger whose level follows the DEBUG env var.
func GetLogger() *zap.Logger {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: os.Getenv(config.Debug) == "true"})
	return l
}
