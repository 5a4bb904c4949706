package postgresEffectStore

import (
	"context"
	"time"

	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const saveBatchSize = 500

// EffectCacheRow maps to the effect_cache table.
type EffectCacheRow struct {
	InputHash string `gorm:"primaryKey"`
	EffectId  string
	Input     string
	Output    []byte
	CreatedAt time.Time
}

func (EffectCacheRow) TableName() string {
	return "effect_cache"
}

type PostgresEffectStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPostgresEffectStore(db *gorm.DB, l *zap.Logger) *PostgresEffectStore {
	return &PostgresEffectStore{
		db:     db,
		logger: l,
	}
}

func (s *PostgresEffectStore) Load(ctx context.Context) ([]*effects.Record, error) {
	rows := make([]*EffectCacheRow, 0)
	if res := s.db.WithContext(ctx).Order("created_at asc").Find(&rows); res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to load effect cache")
	}
	records := make([]*effects.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, &effects.Record{
			EffectId:  r.EffectId,
			InputHash: r.InputHash,
			Input:     r.Input,
			Output:    r.Output,
			CreatedAt: r.CreatedAt,
		})
	}
	return records, nil
}

// Save inserts records, ignoring hashes that are already stored.
func (s *PostgresEffectStore) Save(ctx context.Context, records []*effects.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*EffectCacheRow, 0, len(records))
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		rows = append(rows, &EffectCacheRow{
			InputHash: r.InputHash,
			EffectId:  r.EffectId,
			Input:     r.Input,
			Output:    r.Output,
			CreatedAt: createdAt,
		})
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "input_hash"}}, DoNothing: true}).
		CreateInBatches(rows, saveBatchSize)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to save effect cache")
	}
	s.logger.Sugar().Debugw("Saved effect cache records", zap.Int("count", len(rows)))
	return nil
}

// Close is a no-op; the gorm connection is owned by the caller.
func (s *PostgresEffectStore) Close() error {
	return nil
}
