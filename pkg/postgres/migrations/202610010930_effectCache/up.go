package _202610010930_effectCache

import (
	"database/sql"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS effect_cache (
			input_hash varchar primary key,
			effect_id varchar not null,
			input text not null,
			output bytea,
			created_at timestamp DEFAULT current_timestamp
		)`,
		`CREATE INDEX IF NOT EXISTS idx_effect_cache_effect_id ON effect_cache (effect_id)`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610010930_effectCache"
}
