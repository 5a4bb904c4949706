package postgresEffectStore

import (
	"context"
	"testing"

	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/Layr-Labs/unichain-indexer/internal/tests/sqlite"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_PostgresEffectStore(t *testing.T) {
	l := tests.GetLogger()
	grm, err := sqlite.GetMigratedInMemorySqliteDatabaseConnection(l)
	require.NoError(t, err)
	defer sqlite.CloseDatabase(grm)

	store := NewPostgresEffectStore(grm, l)

	key := effects.CallKey{EffectId: "tokenMetadata", Input: `{"token":"0x1"}`}

	t.Run("Should save and load records", func(t *testing.T) {
		err := store.Save(context.Background(), []*effects.Record{
			{EffectId: key.EffectId, InputHash: key.Hash(), Input: key.Input, Output: []byte(`{"decimals":8}`)},
		})
		require.NoError(t, err)

		records, err := store.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, key.EffectId, records[0].EffectId)
		assert.Equal(t, key.Input, records[0].Input)
		assert.Equal(t, `{"decimals":8}`, string(records[0].Output))
	})
	t.Run("Should ignore records that were already saved", func(t *testing.T) {
		err := store.Save(context.Background(), []*effects.Record{
			{EffectId: key.EffectId, InputHash: key.Hash(), Input: key.Input, Output: []byte(`{"decimals":18}`)},
		})
		require.NoError(t, err)

		records, err := store.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, `{"decimals":8}`, string(records[0].Output))
	})
	t.Run("Should warm an effect cache across restarts", func(t *testing.T) {
		calls := 0
		eff := effects.NewEffect("double", func(ctx context.Context, in int) (int, error) {
			calls++
			return in * 2, nil
		})

		first := effects.NewEffectCache(store, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, first.Register(eff))
		require.NoError(t, first.Init(context.Background()))
		out, err := eff.Call(context.Background(), first, 21)
		require.NoError(t, err)
		assert.Equal(t, 42, out)
		require.NoError(t, first.Shutdown(context.Background()))

		second := effects.NewEffectCache(store, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, second.Register(eff))
		require.NoError(t, second.Init(context.Background()))
		out, err = eff.Call(context.Background(), second, 21)
		require.NoError(t, err)
		assert.Equal(t, 42, out)
		assert.Equal(t, 1, calls)
	})
}
