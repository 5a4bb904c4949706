package migrations

import (
	"database/sql"
	"fmt"
	"time"

	_202610010915_entityHistory "github.com/Layr-Labs/unichain-indexer/pkg/postgres/migrations/202610010915_entityHistory"
	_202610010930_effectCache "github.com/Layr-Labs/unichain-indexer/pkg/postgres/migrations/202610010930_effectCache"
	_202610010945_eventCheckpoints "github.com/Layr-Labs/unichain-indexer/pkg/postgres/migrations/202610010945_eventCheckpoints"
	_202610181030_pruneFloors "github.com/Layr-Labs/unichain-indexer/pkg/postgres/migrations/202610181030_pruneFloors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Migration interface {
	Up(db *sql.DB, grm *gorm.DB) error
	GetName() string
}

type Migrator struct {
	Db     *sql.DB
	GDb    *gorm.DB
	Logger *zap.Logger
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger) *Migrator {
	return &Migrator{
		Db:     db,
		GDb:    gDb,
		Logger: l,
	}
}

func (m *Migrator) MigrateAll() error {
	if err := m.GDb.AutoMigrate(&Migrations{}); err != nil {
		m.Logger.Sugar().Errorw("Failed to create migrations table", zap.Error(err))
		return err
	}

	migrations := []Migration{
		&_202610010915_entityHistory.Migration{},
		&_202610010930_effectCache.Migration{},
		&_202610010945_eventCheckpoints.Migration{},
		&_202610181030_pruneFloors.Migration{},
	}

	for _, migration := range migrations {
		if err := m.Migrate(migration); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) Migrate(migration Migration) error {
	name := migration.GetName()

	// find migration by name
	var migrationRecord Migrations
	result := m.GDb.Find(&migrationRecord, "name = ?", name).Limit(1)

	if result.Error != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to find migration '%s'", name), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected > 0 {
		m.Logger.Sugar().Debugf("Migration %s already run", name)
		return nil
	}

	m.Logger.Sugar().Infof("Running migration '%s'", name)
	if err := migration.Up(m.Db, m.GDb); err != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to run migration '%s'", name), zap.Error(err))
		return err
	}

	migrationRecord = Migrations{
		Name: name,
	}
	if result = m.GDb.Create(&migrationRecord); result.Error != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to record migration '%s'", name), zap.Error(result.Error))
		return result.Error
	}
	return nil
}

type Migrations struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
