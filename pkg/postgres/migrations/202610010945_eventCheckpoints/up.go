package _202610010945_eventCheckpoints

import (
	"database/sql"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS event_checkpoints (
			chain_id bigint not null,
			block_number bigint not null,
			log_index bigint not null,
			change_root varchar not null,
			created_at timestamp DEFAULT current_timestamp,
			primary key (chain_id, block_number, log_index)
		)`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610010945_eventCheckpoints"
}
