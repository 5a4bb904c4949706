package redisEffectStore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RedisEffectStore(t *testing.T) {
	t.Run("Should namespace the hash key by chain", func(t *testing.T) {
		assert.Equal(t, "unichain-indexer:effects:130", hashKey("", 130))
		assert.Equal(t, "custom:effects:1301", hashKey("custom", 1301))
	})
	t.Run("Should accept bare addresses and redis urls", func(t *testing.T) {
		opts, err := parseRedisUrl("localhost:6379")
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)

		opts, err = parseRedisUrl("redis://:pw@cache:6380/2")
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, "pw", opts.Password)
		assert.Equal(t, 2, opts.DB)
	})
	t.Run("Should encode and decode records", func(t *testing.T) {
		in := &effects.Record{
			EffectId:  "tokenMetadata",
			InputHash: "0xabc",
			Input:     `"0x1"`,
			Output:    []byte(`{"decimals":8}`),
			CreatedAt: time.Unix(1700000000, 0).UTC(),
		}
		v, err := encodeRecord(in)
		require.NoError(t, err)
		out, err := decodeRecord(v)
		require.NoError(t, err)
		assert.Equal(t, in.EffectId, out.EffectId)
		assert.Equal(t, in.InputHash, out.InputHash)
		assert.Equal(t, in.Input, out.Input)
		assert.Equal(t, in.Output, out.Output)
		assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	})
}

// Runs against a real redis when UNICHAIN_INDEXER_TEST_REDIS_URL is set.
func Test_RedisEffectStoreIntegration(t *testing.T) {
	url := os.Getenv("UNICHAIN_INDEXER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("UNICHAIN_INDEXER_TEST_REDIS_URL not set")
	}
	l := tests.GetLogger()

	opts, err := parseRedisUrl(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	key := hashKey("test-"+uuid.NewString(), 130)
	store := NewRedisEffectStoreWithClient(client, key, l)
	defer func() {
		client.Del(context.Background(), key)
		_ = store.Close()
	}()

	callKey := effects.CallKey{EffectId: "tokenMetadata", Input: `"0x1"`}
	first := &effects.Record{EffectId: callKey.EffectId, InputHash: callKey.Hash(), Input: callKey.Input, Output: []byte(`8`)}
	second := &effects.Record{EffectId: callKey.EffectId, InputHash: callKey.Hash(), Input: callKey.Input, Output: []byte(`18`)}

	require.NoError(t, store.Save(context.Background(), []*effects.Record{first}))
	require.NoError(t, store.Save(context.Background(), []*effects.Record{second}))

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "8", string(records[0].Output))
}
