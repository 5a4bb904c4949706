package _202610181030_pruneFloors

import (
	"database/sql"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS prune_floors (
			chain_id bigint not null primary key,
			block_number bigint not null,
			log_index bigint not null,
			updated_at timestamp DEFAULT current_timestamp
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
	return "202610181030_pruneFloors"
}
