package redisEffectStore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultKeyPrefix = "unichain-indexer"

// RedisEffectStore keeps every resolved effect of a chain in a single redis hash,
// keyed by the call key digest.
type RedisEffectStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

type RedisEffectStoreConfig struct {
	Url     string
	Db      int
	ChainId uint64
	// Defaults to DefaultKeyPrefix
	KeyPrefix string
}

func NewRedisEffectStore(cfg *RedisEffectStoreConfig, l *zap.Logger) (*RedisEffectStore, error) {
	opts, err := parseRedisUrl(cfg.Url)
	if err != nil {
		return nil, err
	}
	opts.DB = cfg.Db
	return NewRedisEffectStoreWithClient(redis.NewClient(opts), hashKey(cfg.KeyPrefix, cfg.ChainId), l), nil
}

func NewRedisEffectStoreWithClient(client *redis.Client, key string, l *zap.Logger) *RedisEffectStore {
	return &RedisEffectStore{
		client: client,
		key:    key,
		logger: l,
	}
}

func parseRedisUrl(url string) (*redis.Options, error) {
	if !strings.Contains(url, "://") {
		return &redis.Options{Addr: url}, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	return opts, nil
}

func hashKey(prefix string, chainId uint64) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s:effects:%d", prefix, chainId)
}

func encodeRecord(r *effects.Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRecord(v string) (*effects.Record, error) {
	r := &effects.Record{}
	if err := json.Unmarshal([]byte(v), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RedisEffectStore) Load(ctx context.Context) ([]*effects.Record, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err == redis.Nil {
		return []*effects.Record{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load effects from redis")
	}
	records := make([]*effects.Record, 0, len(values))
	for field, v := range values {
		r, err := decodeRecord(v)
		if err != nil {
			s.logger.Sugar().Warnw("Skipping undecodable effect record", zap.String("inputHash", field), zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Save writes records with HSETNX so an existing result is never replaced.
func (s *RedisEffectStore) Save(ctx context.Context, records []*effects.Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			v, err := encodeRecord(r)
			if err != nil {
				return err
			}
			pipe.HSetNX(ctx, s.key, r.InputHash, v)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to save effects to redis")
	}
	return nil
}

func (s *RedisEffectStore) Close() error {
	return s.client.Close()
}
