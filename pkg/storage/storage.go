package storage

import (
	"context"
	"time"
)

// CheckpointStore exposes the last committed event of a chain for resuming ingestion.
type CheckpointStore interface {
	GetLatestCheckpoint(ctx context.Context, chainId uint64) (*EventCheckpoint, error)
	ListCheckpoints(ctx context.Context, chainId uint64) ([]*EventCheckpoint, error)
}

// Tables.
type EntityHistory struct {
	Seq         uint64 `gorm:"primaryKey;autoIncrement:false"`
	EntityType  string
	EntityId    string
	ChainId     uint64
	BlockNumber uint64
	LogIndex    uint64
	Deleted     bool
	Data        []byte
	CreatedAt   time.Time
}

func (EntityHistory) TableName() string {
	return "entity_history"
}

type EventCheckpoint struct {
	ChainId     uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlockNumber uint64 `gorm:"primaryKey;autoIncrement:false"`
	LogIndex    uint64 `gorm:"primaryKey;autoIncrement:false"`
	ChangeRoot  string
	CreatedAt   time.Time
}

func (EventCheckpoint) TableName() string {
	return "event_checkpoints"
}

// PruneFloor is the newest pruned event of a chain. Rollbacks may not reach it.
type PruneFloor struct {
	ChainId     uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlockNumber uint64
	LogIndex    uint64
	UpdatedAt   time.Time
}

func (PruneFloor) TableName() string {
	return "prune_floors"
}
