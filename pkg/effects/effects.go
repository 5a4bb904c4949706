// Package effects memoizes external calls made by event handlers.
//
// Every (effect id, serialized input) pair is executed at most once for the lifetime of an
// EffectCache. Concurrent callers with the same key wait on the same pending entry, and
// failures are cached the same way results are.
package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/utils"
	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const shardCount = 64

var (
	ErrUnknownEffect = errors.New("unknown effect")
	ErrCacheClosed   = errors.New("effect cache is shut down")
)

// CallKey identifies one effect invocation.
type CallKey struct {
	EffectId string
	Input    string
}

func (k CallKey) mapKey() string {
	return k.EffectId + "\x00" + k.Input
}

// Hash is the content address of the key, used when persisting results.
func (k CallKey) Hash() string {
	return utils.ConvertBytesToString(crypto.Keccak256([]byte(k.EffectId), []byte{0}, []byte(k.Input)))
}

type EntryStatus int

const (
	EntryStatus_Pending EntryStatus = iota
	EntryStatus_Resolved
	EntryStatus_Failed
)

func (s EntryStatus) String() string {
	switch s {
	case EntryStatus_Pending:
		return "pending"
	case EntryStatus_Resolved:
		return "resolved"
	default:
		return "failed"
	}
}

// EffectFailure is returned to every caller of an effect whose invocation failed.
type EffectFailure struct {
	EffectId string
	Input    string
	Err      error
}

func (e *EffectFailure) Error() string {
	return fmt.Sprintf("effect %s failed for input %s: %v", e.EffectId, e.Input, e.Err)
}

func (e *EffectFailure) Unwrap() error {
	return e.Err
}

type entry struct {
	key    CallKey
	status EntryStatus
	output []byte
	err    error

	persisted bool
	// closed once status leaves pending
	done chan struct{}
}

func newEntry(key CallKey) *entry {
	return &entry{
		key:    key,
		status: EntryStatus_Pending,
		done:   make(chan struct{}),
	}
}

func newResolvedEntry(key CallKey, output []byte) *entry {
	e := newEntry(key)
	e.status = EntryStatus_Resolved
	e.output = output
	close(e.done)
	return e
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type EffectCache struct {
	logger  *zap.Logger
	metrics *metrics.MetricsSink
	store   EffectStore

	defLock     sync.RWMutex
	definitions map[string]Definition

	shards [shardCount]*shard

	// held for reading while an invocation is registered, for writing when shutdown starts
	closeLock sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
}

// NewEffectCache creates a cache. store may be nil, in which case nothing is persisted.
func NewEffectCache(store EffectStore, ms *metrics.MetricsSink, l *zap.Logger) *EffectCache {
	c := &EffectCache{
		logger:      l,
		metrics:     ms,
		store:       store,
		definitions: make(map[string]Definition),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return c
}

// Register makes a definition callable by id. Registering the same id twice is an error.
func (c *EffectCache) Register(defs ...Definition) error {
	c.defLock.Lock()
	defer c.defLock.Unlock()
	for _, d := range defs {
		if _, ok := c.definitions[d.Id()]; ok {
			return fmt.Errorf("effect %s is already registered", d.Id())
		}
		c.definitions[d.Id()] = d
	}
	return nil
}

func (c *EffectCache) definition(effectId string) (Definition, bool) {
	c.defLock.RLock()
	defer c.defLock.RUnlock()
	d, ok := c.definitions[effectId]
	return d, ok
}

func (c *EffectCache) shardFor(mapKey string) *shard {
	return c.shards[xxhash.Sum64String(mapKey)%shardCount]
}

// Init warms the cache with previously persisted results.
func (c *EffectCache) Init(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	records, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Sugar().Errorw("Failed to load persisted effects", zap.Error(err))
		return err
	}
	for _, r := range records {
		key := CallKey{EffectId: r.EffectId, Input: r.Input}
		e := newResolvedEntry(key, r.Output)
		e.persisted = true

		s := c.shardFor(key.mapKey())
		s.mu.Lock()
		if _, ok := s.entries[key.mapKey()]; !ok {
			s.entries[key.mapKey()] = e
		}
		s.mu.Unlock()
	}
	c.logger.Sugar().Infow("Loaded persisted effects", zap.Int("count", len(records)))
	return nil
}

// Call invokes effectId with input, or returns the cached result of an earlier identical call.
//
// If ctx is cancelled while the call is pending, Call returns ctx.Err() but the underlying
// invocation keeps running and its result is still cached.
func (c *EffectCache) Call(ctx context.Context, effectId string, input any) ([]byte, error) {
	def, ok := c.definition(effectId)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEffect, effectId)
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input for effect %s: %w", effectId, err)
	}
	return c.call(ctx, def, CallKey{EffectId: effectId, Input: string(encoded)})
}

func (c *EffectCache) call(ctx context.Context, def Definition, key CallKey) ([]byte, error) {
	labels := []metricsTypes.MetricsLabel{{Name: "effectId", Value: key.EffectId}}
	_ = c.metrics.Incr(metricsTypes.Metric_Incr_EffectCall, labels, 1)

	mk := key.mapKey()
	s := c.shardFor(mk)

	s.mu.RLock()
	e, found := s.entries[mk]
	s.mu.RUnlock()

	if !found {
		s.mu.Lock()
		e, found = s.entries[mk]
		if !found {
			c.closeLock.RLock()
			if c.closed {
				c.closeLock.RUnlock()
				s.mu.Unlock()
				return nil, ErrCacheClosed
			}
			c.inflight.Add(1)
			c.closeLock.RUnlock()
			e = newEntry(key)
			s.entries[mk] = e
			go c.invoke(context.WithoutCancel(ctx), def, s, e)
		}
		s.mu.Unlock()
	}

	select {
	case <-e.done:
		if found {
			_ = c.metrics.Incr(metricsTypes.Metric_Incr_EffectCacheHit, labels, 1)
		}
		if e.status == EntryStatus_Failed {
			return nil, e.err
		}
		return e.output, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *EffectCache) invoke(ctx context.Context, def Definition, s *shard, e *entry) {
	defer c.inflight.Done()

	start := time.Now()
	output, err := c.safeInvoke(ctx, def, e.key)

	s.mu.Lock()
	if err != nil {
		e.status = EntryStatus_Failed
		e.err = &EffectFailure{EffectId: e.key.EffectId, Input: e.key.Input, Err: err}
	} else {
		e.status = EntryStatus_Resolved
		e.output = output
	}
	s.mu.Unlock()
	close(e.done)

	_ = c.metrics.Incr(metricsTypes.Metric_Incr_EffectInvocation, []metricsTypes.MetricsLabel{
		{Name: "effectId", Value: e.key.EffectId},
		{Name: "status", Value: e.status.String()},
	}, 1)

	if err != nil {
		c.logger.Sugar().Warnw("Effect call failed; failure is cached",
			zap.String("effectId", e.key.EffectId),
			zap.String("input", e.key.Input),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	c.logger.Sugar().Debugw("Effect call resolved",
		zap.String("effectId", e.key.EffectId),
		zap.Duration("duration", time.Since(start)),
	)
}

func (c *EffectCache) safeInvoke(ctx context.Context, def Definition, key CallKey) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect %s panicked: %v", key.EffectId, r)
		}
	}()
	return def.Invoke(ctx, []byte(key.Input))
}

// Status reports the state of the entry for (effectId, input), or false if none exists.
func (c *EffectCache) Status(effectId string, input any) (EntryStatus, bool) {
	encoded, err := json.Marshal(input)
	if err != nil {
		return EntryStatus_Failed, false
	}
	key := CallKey{EffectId: effectId, Input: string(encoded)}
	s := c.shardFor(key.mapKey())
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.mapKey()]
	if !ok {
		return EntryStatus_Failed, false
	}
	return e.status, true
}

type Stats struct {
	Pending  int
	Resolved int
	Failed   int
}

func (c *EffectCache) Stats() Stats {
	stats := Stats{}
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			switch e.status {
			case EntryStatus_Pending:
				stats.Pending++
			case EntryStatus_Resolved:
				stats.Resolved++
			case EntryStatus_Failed:
				stats.Failed++
			}
		}
		s.mu.RUnlock()
	}
	return stats
}

// Flush persists resolved entries that have not been written to the store yet.
// Failed entries are never persisted.
func (c *EffectCache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	records := make([]*Record, 0)
	pending := make([]*entry, 0)
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.status != EntryStatus_Resolved || e.persisted {
				continue
			}
			records = append(records, &Record{
				EffectId:  e.key.EffectId,
				InputHash: e.key.Hash(),
				Input:     e.key.Input,
				Output:    e.output,
				CreatedAt: time.Now(),
			})
			pending = append(pending, e)
		}
		s.mu.RUnlock()
	}
	if len(records) == 0 {
		return nil
	}
	if err := c.store.Save(ctx, records); err != nil {
		c.logger.Sugar().Errorw("Failed to persist effects", zap.Int("count", len(records)), zap.Error(err))
		return err
	}
	for _, e := range pending {
		s := c.shardFor(e.key.mapKey())
		s.mu.Lock()
		e.persisted = true
		s.mu.Unlock()
	}
	c.logger.Sugar().Infow("Persisted effects", zap.Int("count", len(records)))
	return nil
}

// Shutdown stops accepting new keys, waits for in-flight invocations until ctx is done,
// then flushes resolved results to the store.
func (c *EffectCache) Shutdown(ctx context.Context) error {
	c.closeLock.Lock()
	c.closed = true
	c.closeLock.Unlock()

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		c.logger.Sugar().Warnw("Timed out waiting for in-flight effects; flushing what resolved", zap.Error(ctx.Err()))
	}

	flushCtx := context.WithoutCancel(ctx)
	if err := c.Flush(flushCtx); err != nil {
		return err
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
