package _202610010915_entityHistory

import (
	"database/sql"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entity_history (
			seq bigint primary key,
			entity_type varchar not null,
			entity_id varchar not null,
			chain_id bigint not null,
			block_number bigint not null,
			log_index bigint not null,
			deleted boolean not null default false,
			data bytea,
			created_at timestamp DEFAULT current_timestamp
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_history_chain_block ON entity_history (chain_id, block_number)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_history_type_id ON entity_history (entity_type, entity_id)`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610010915_entityHistory"
}
