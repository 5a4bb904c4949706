package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/postgres/helpers"
	"github.com/Layr-Labs/unichain-indexer/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	insertBatchSize = 1000
	deleteBatchSize = 1000
)

// PostgresEntityHistoryStore persists entity versions and event checkpoints. It implements
// entityStore.Persistence and storage.CheckpointStore.
type PostgresEntityHistoryStore struct {
	Db     *gorm.DB
	Logger *zap.Logger
}

func NewPostgresEntityHistoryStore(db *gorm.DB, l *zap.Logger) *PostgresEntityHistoryStore {
	return &PostgresEntityHistoryStore{
		Db:     db,
		Logger: l,
	}
}

func (s *PostgresEntityHistoryStore) PersistChangeSet(ctx context.Context, record *entityStore.CommitRecord) error {
	now := time.Now()
	rows := make([]*storage.EntityHistory, 0, len(record.Versions))
	for _, v := range record.Versions {
		rows = append(rows, &storage.EntityHistory{
			Seq:         v.Seq,
			EntityType:  v.EntityType,
			EntityId:    v.EntityId,
			ChainId:     v.Coordinates.ChainId,
			BlockNumber: v.Coordinates.BlockNumber,
			LogIndex:    v.Coordinates.LogIndex,
			Deleted:     v.Deleted,
			Data:        v.Data,
			CreatedAt:   now,
		})
	}
	checkpoint := &storage.EventCheckpoint{
		ChainId:     record.Coordinates.ChainId,
		BlockNumber: record.Coordinates.BlockNumber,
		LogIndex:    record.Coordinates.LogIndex,
		ChangeRoot:  record.ChangeRoot,
		CreatedAt:   now,
	}

	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		if len(rows) > 0 {
			if res := tx.CreateInBatches(&rows, insertBatchSize); res.Error != nil {
				return nil, fmt.Errorf("failed to insert entity history: %w", res.Error)
			}
		}
		if res := tx.Create(checkpoint); res.Error != nil {
			return nil, fmt.Errorf("failed to insert event checkpoint: %w", res.Error)
		}
		return nil, nil
	}, s.Db.WithContext(ctx), nil)
	return err
}

func (s *PostgresEntityHistoryStore) RevertEvents(ctx context.Context, chainId uint64, fromBlock uint64) error {
	s.Logger.Sugar().Infow("Reverting persisted events",
		zap.Uint64("chainId", chainId),
		zap.Uint64("fromBlock", fromBlock),
	)
	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		for _, tableName := range []string{"entity_history", "event_checkpoints"} {
			query := fmt.Sprintf(`
				delete from %s
				where chain_id = @chainId and block_number >= @fromBlock
			`, tableName)
			res := tx.Exec(query,
				sql.Named("chainId", chainId),
				sql.Named("fromBlock", fromBlock),
			)
			if res.Error != nil {
				return nil, fmt.Errorf("failed to revert table '%s': %w", tableName, res.Error)
			}
		}
		return nil, nil
	}, s.Db.WithContext(ctx), nil)
	return err
}

func (s *PostgresEntityHistoryStore) LoadHistory(ctx context.Context) (*entityStore.History, error) {
	rows := make([]*storage.EntityHistory, 0)
	if res := s.Db.WithContext(ctx).Order("seq asc").Find(&rows); res.Error != nil {
		return nil, fmt.Errorf("failed to load entity history: %w", res.Error)
	}
	checkpoints := make([]*storage.EventCheckpoint, 0)
	res := s.Db.WithContext(ctx).
		Order("chain_id asc, block_number asc, log_index asc").
		Find(&checkpoints)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to load event checkpoints: %w", res.Error)
	}
	floors := make([]*storage.PruneFloor, 0)
	if res := s.Db.WithContext(ctx).Find(&floors); res.Error != nil {
		return nil, fmt.Errorf("failed to load prune floors: %w", res.Error)
	}

	history := &entityStore.History{
		Versions:    make([]*entityStore.PersistedVersion, 0, len(rows)),
		Checkpoints: make(map[uint64]events.Coordinates),
		Floors:      make(map[uint64]events.Coordinates, len(floors)),
	}
	for _, f := range floors {
		history.Floors[f.ChainId] = events.Coordinates{
			ChainId:     f.ChainId,
			BlockNumber: f.BlockNumber,
			LogIndex:    f.LogIndex,
		}
	}
	for _, r := range rows {
		history.Versions = append(history.Versions, &entityStore.PersistedVersion{
			Seq:        r.Seq,
			EntityType: r.EntityType,
			EntityId:   r.EntityId,
			Coordinates: events.Coordinates{
				ChainId:     r.ChainId,
				BlockNumber: r.BlockNumber,
				LogIndex:    r.LogIndex,
			},
			Deleted: r.Deleted,
			Data:    r.Data,
		})
	}
	for _, c := range checkpoints {
		history.Checkpoints[c.ChainId] = events.Coordinates{
			ChainId:     c.ChainId,
			BlockNumber: c.BlockNumber,
			LogIndex:    c.LogIndex,
		}
	}
	return history, nil
}

// PruneHistory deletes the given versions and every checkpoint of the chain below BelowBlock,
// except the chain's latest checkpoint, and records the new prune floor.
func (s *PostgresEntityHistoryStore) PruneHistory(ctx context.Context, record *entityStore.PruneRecord) error {
	latest, err := s.GetLatestCheckpoint(ctx, record.ChainId)
	if err != nil {
		return err
	}
	_, err = helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		for start := 0; start < len(record.Seqs); start += deleteBatchSize {
			end := min(start+deleteBatchSize, len(record.Seqs))
			res := tx.Where("seq in ?", record.Seqs[start:end]).Delete(&storage.EntityHistory{})
			if res.Error != nil {
				return nil, fmt.Errorf("failed to prune entity history: %w", res.Error)
			}
		}

		query := tx.Where("chain_id = ? and block_number < ?", record.ChainId, record.BelowBlock)
		if latest != nil {
			query = query.Where("not (block_number = ? and log_index = ?)", latest.BlockNumber, latest.LogIndex)
		}
		if res := query.Delete(&storage.EventCheckpoint{}); res.Error != nil {
			return nil, fmt.Errorf("failed to prune event checkpoints: %w", res.Error)
		}

		floor := &storage.PruneFloor{
			ChainId:     record.ChainId,
			BlockNumber: record.Floor.BlockNumber,
			LogIndex:    record.Floor.LogIndex,
			UpdatedAt:   time.Now(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"block_number", "log_index", "updated_at"}),
		}).Create(floor)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to record prune floor: %w", res.Error)
		}
		return nil, nil
	}, s.Db.WithContext(ctx), nil)
	return err
}

// GetLatestCheckpoint returns nil when nothing has been committed for chainId.
func (s *PostgresEntityHistoryStore) GetLatestCheckpoint(ctx context.Context, chainId uint64) (*storage.EventCheckpoint, error) {
	checkpoint := &storage.EventCheckpoint{}
	res := s.Db.WithContext(ctx).
		Where("chain_id = ?", chainId).
		Order("block_number desc, log_index desc").
		First(checkpoint)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", res.Error)
	}
	return checkpoint, nil
}

func (s *PostgresEntityHistoryStore) ListCheckpoints(ctx context.Context, chainId uint64) ([]*storage.EventCheckpoint, error) {
	checkpoints := make([]*storage.EventCheckpoint, 0)
	res := s.Db.WithContext(ctx).
		Where("chain_id = ?", chainId).
		Order("block_number asc, log_index asc").
		Find(&checkpoints)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", res.Error)
	}
	return checkpoints, nil
}
