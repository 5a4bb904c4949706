package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Layr-Labs/unichain-indexer/pkg/postgres/migrations"
	sqlite2 "github.com/Layr-Labs/unichain-indexer/pkg/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetInMemorySqliteDatabaseConnection returns a fresh, isolated in-memory database.
func GetInMemorySqliteDatabaseConnection(l *zap.Logger) (*gorm.DB, error) {
	return sqlite2.NewGormSqliteFromSqlite(sqlite2.NewSqlite(sqlite2.InMemoryPath(uuid.NewString())))
}

// GetMigratedInMemorySqliteDatabaseConnection returns an in-memory database with every migration applied.
func GetMigratedInMemorySqliteDatabaseConnection(l *zap.Logger) (*gorm.DB, error) {
	grm, err := GetInMemorySqliteDatabaseConnection(l)
	if err != nil {
		return nil, err
	}
	if err := migrate(grm, l); err != nil {
		return nil, err
	}
	return grm, nil
}

// GetFileBasedSqliteDatabaseConnection returns a migrated database backed by a file, so it can be reopened.
func GetFileBasedSqliteDatabaseConnection(l *zap.Logger) (string, *gorm.DB, error) {
	basePath := filepath.Join(os.TempDir(), fmt.Sprintf("unichain-indexer-%s", uuid.NewString()))
	if err := os.MkdirAll(basePath, os.ModePerm); err != nil {
		return "", nil, err
	}

	filePath := filepath.Join(basePath, "test.db")
	grm, err := OpenFileBasedSqliteDatabaseConnection(filePath, l)
	if err != nil {
		return "", nil, err
	}
	return filePath, grm, nil
}

func OpenFileBasedSqliteDatabaseConnection(filePath string, l *zap.Logger) (*gorm.DB, error) {
	grm, err := sqlite2.NewGormSqliteFromSqlite(sqlite2.NewSqlite(filePath))
	if err != nil {
		return nil, err
	}
	if err := migrate(grm, l); err != nil {
		return nil, err
	}
	return grm, nil
}

func migrate(grm *gorm.DB, l *zap.Logger) error {
	sqlDb, err := grm.DB()
	if err != nil {
		return err
	}
	return migrations.NewMigrator(sqlDb, grm, l).MigrateAll()
}

func CloseDatabase(grm *gorm.DB) {
	if sqlDb, err := grm.DB(); err == nil {
		_ = sqlDb.Close()
	}
}
