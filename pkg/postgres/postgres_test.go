package postgres

import (
	"errors"
	"testing"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Postgres(t *testing.T) {
	t.Run("Should build a connection string from the database config", func(t *testing.T) {
		cfg := PostgresConfigFromDbConfig(&config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "indexer",
			Password: "secret",
			DbName:   "unichain",
		})
		connStr, err := getPostgresConnectionString(cfg)
		require.NoError(t, err)
		assert.Equal(t, "host=localhost  user=indexer password=secret dbname=unichain port=5432 sslmode=disable TimeZone=UTC", connStr)
	})
	t.Run("Should add ssl and schema settings", func(t *testing.T) {
		connStr, err := getPostgresConnectionString(&PostgresConfig{
			Host:        "db",
			Port:        5432,
			DbName:      "unichain",
			SSLMode:     "verify-full",
			SSLRootCert: "/certs/root.pem",
			SchemaName:  "indexer",
		})
		require.NoError(t, err)
		assert.Contains(t, connStr, "sslmode=verify-full")
		assert.Contains(t, connStr, "sslrootcert=/certs/root.pem")
		assert.Contains(t, connStr, "search_path=indexer")
	})
	t.Run("Should reject unknown ssl modes", func(t *testing.T) {
		_, err := getPostgresConnectionString(&PostgresConfig{SSLMode: "sometimes"})
		assert.Error(t, err)
	})
	t.Run("Should detect duplicate key errors", func(t *testing.T) {
		assert.True(t, IsDuplicateKeyError(errors.New(`pq: duplicate key value violates unique constraint "effect_cache_pkey"`)))
		assert.True(t, IsDuplicateKeyError(errors.New("UNIQUE constraint failed: effect_cache.input_hash")))
		assert.False(t, IsDuplicateKeyError(errors.New("connection refused")))
		assert.False(t, IsDuplicateKeyError(nil))
	})
}
