package effects

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/logger"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingEffect struct {
	id      string
	calls   atomic.Int64
	release chan struct{}
	fail    error
	panics  bool
}

func (c *countingEffect) Id() string {
	return c.id
}

func (c *countingEffect) Invoke(ctx context.Context, input []byte) ([]byte, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	if c.panics {
		panic("boom")
	}
	if c.fail != nil {
		return nil, c.fail
	}
	return append([]byte(`{"echo":`), append(input, '}')...), nil
}

func setup() *zap.Logger {
	debug := os.Getenv(config.Debug) == "true"
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: debug})
	return l
}

func Test_EffectCache(t *testing.T) {
	l := setup()

	t.Run("Should invoke exactly once for concurrent callers with the same input", func(t *testing.T) {
		eff := &countingEffect{id: "getDecimals", release: make(chan struct{})}
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		const callers = 50
		results := make([][]byte, callers)
		errs := make([]error, callers)
		wg := sync.WaitGroup{}
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = cache.Call(context.Background(), eff.id, "0xabc")
			}(i)
		}

		assert.Eventually(t, func() bool {
			return eff.calls.Load() == 1
		}, time.Second, 5*time.Millisecond)
		close(eff.release)
		wg.Wait()

		assert.Equal(t, int64(1), eff.calls.Load())
		for i := 0; i < callers; i++ {
			assert.NoError(t, errs[i])
			assert.Equal(t, `{"echo":"0xabc"}`, string(results[i]))
		}
	})
	t.Run("Should return the cached result on sequential calls", func(t *testing.T) {
		eff := &countingEffect{id: "getSymbol"}
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		first, err := cache.Call(context.Background(), eff.id, map[string]string{"token": "0x1"})
		require.NoError(t, err)
		second, err := cache.Call(context.Background(), eff.id, map[string]string{"token": "0x1"})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int64(1), eff.calls.Load())

		status, ok := cache.Status(eff.id, map[string]string{"token": "0x1"})
		assert.True(t, ok)
		assert.Equal(t, EntryStatus_Resolved, status)
	})
	t.Run("Should invoke separately for distinct inputs", func(t *testing.T) {
		eff := &countingEffect{id: "getName"}
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		_, err := cache.Call(context.Background(), eff.id, "a")
		require.NoError(t, err)
		_, err = cache.Call(context.Background(), eff.id, "b")
		require.NoError(t, err)

		assert.Equal(t, int64(2), eff.calls.Load())
		assert.Equal(t, 2, cache.Stats().Resolved)
	})
	t.Run("Should cache failures and return the same error without re-invoking", func(t *testing.T) {
		rpcErr := errors.New("rpc unavailable")
		eff := &countingEffect{id: "getBalance", fail: rpcErr}
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		_, err1 := cache.Call(context.Background(), eff.id, 1)
		_, err2 := cache.Call(context.Background(), eff.id, 1)

		require.Error(t, err1)
		assert.Same(t, err1, err2)
		assert.ErrorIs(t, err1, rpcErr)

		var failure *EffectFailure
		require.True(t, errors.As(err1, &failure))
		assert.Equal(t, "getBalance", failure.EffectId)
		assert.Equal(t, "1", failure.Input)
		assert.Equal(t, int64(1), eff.calls.Load())
		assert.Equal(t, 1, cache.Stats().Failed)
	})
	t.Run("Should convert a panicking effect into a cached failure", func(t *testing.T) {
		eff := &countingEffect{id: "panics", panics: true}
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		_, err := cache.Call(context.Background(), eff.id, "x")
		var failure *EffectFailure
		require.True(t, errors.As(err, &failure))
		assert.Contains(t, failure.Error(), "panicked")
	})
	t.Run("Should return ctx error to a cancelled waiter but still cache the result", func(t *testing.T) {
		eff := &countingEffect{id: "slow", release: make(chan struct{})}
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := cache.Call(ctx, eff.id, "k")
			done <- err
		}()
		assert.Eventually(t, func() bool {
			return eff.calls.Load() == 1
		}, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		close(eff.release)
		out, err := cache.Call(context.Background(), eff.id, "k")
		require.NoError(t, err)
		assert.Equal(t, `{"echo":"k"}`, string(out))
		assert.Equal(t, int64(1), eff.calls.Load())
	})
	t.Run("Should reject unknown effects and duplicate registrations", func(t *testing.T) {
		cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		_, err := cache.Call(context.Background(), "missing", 1)
		assert.ErrorIs(t, err, ErrUnknownEffect)

		require.NoError(t, cache.Register(&countingEffect{id: "dup"}))
		assert.Error(t, cache.Register(&countingEffect{id: "dup"}))
	})
	t.Run("Should persist resolved results on shutdown and reload them on init", func(t *testing.T) {
		store := NewMemoryEffectStore()

		ok := &countingEffect{id: "ok"}
		bad := &countingEffect{id: "bad", fail: errors.New("nope")}
		cache := NewEffectCache(store, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(ok, bad))
		require.NoError(t, cache.Init(context.Background()))

		_, err := cache.Call(context.Background(), ok.id, "a")
		require.NoError(t, err)
		_, err = cache.Call(context.Background(), bad.id, "a")
		require.Error(t, err)

		require.NoError(t, cache.Shutdown(context.Background()))
		assert.Equal(t, 1, store.Len())

		_, err = cache.Call(context.Background(), ok.id, "new-input")
		assert.ErrorIs(t, err, ErrCacheClosed)

		okAgain := &countingEffect{id: "ok"}
		restarted := NewEffectCache(store, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, restarted.Register(okAgain))
		require.NoError(t, restarted.Init(context.Background()))

		out, err := restarted.Call(context.Background(), okAgain.id, "a")
		require.NoError(t, err)
		assert.Equal(t, `{"echo":"a"}`, string(out))
		assert.Equal(t, int64(0), okAgain.calls.Load())
	})
	t.Run("Should wait for in-flight calls before flushing on shutdown", func(t *testing.T) {
		store := NewMemoryEffectStore()
		eff := &countingEffect{id: "inflight", release: make(chan struct{})}
		cache := NewEffectCache(store, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			_, _ = cache.Call(ctx, eff.id, "z")
		}()
		assert.Eventually(t, func() bool {
			return eff.calls.Load() == 1
		}, time.Second, 5*time.Millisecond)
		cancel()

		go func() {
			time.Sleep(20 * time.Millisecond)
			close(eff.release)
		}()
		require.NoError(t, cache.Shutdown(context.Background()))
		assert.Equal(t, 1, store.Len())
	})
	t.Run("Should flush every call accepted while shutdown starts", func(t *testing.T) {
		store := NewMemoryEffectStore()
		eff := &countingEffect{id: "racing"}
		cache := NewEffectCache(store, metrics.NewNoopMetricsSink(), l)
		require.NoError(t, cache.Register(eff))

		var accepted atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := cache.Call(context.Background(), eff.id, i)
				if err == nil {
					accepted.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrCacheClosed)
				}
			}(i)
		}
		close(start)
		require.NoError(t, cache.Shutdown(context.Background()))
		wg.Wait()

		assert.Equal(t, int(accepted.Load()), store.Len())
		assert.Equal(t, accepted.Load(), eff.calls.Load())
	})
}

func Test_TypedEffect(t *testing.T) {
	l := setup()

	type decimalsInput struct {
		Token string `json:"token"`
	}
	calls := atomic.Int64{}
	decimals := NewEffect("decimals", func(ctx context.Context, in decimalsInput) (uint8, error) {
		calls.Add(1)
		if in.Token == "0xwbtc" {
			return 8, nil
		}
		return 18, nil
	})

	cache := NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
	require.NoError(t, cache.Register(decimals))

	t.Run("Should decode typed outputs through the cache", func(t *testing.T) {
		d, err := decimals.Call(context.Background(), cache, decimalsInput{Token: "0xwbtc"})
		require.NoError(t, err)
		assert.Equal(t, uint8(8), d)

		d, err = decimals.Call(context.Background(), cache, decimalsInput{Token: "0xwbtc"})
		require.NoError(t, err)
		assert.Equal(t, uint8(8), d)

		d, err = decimals.Call(context.Background(), cache, decimalsInput{Token: "0xweth"})
		require.NoError(t, err)
		assert.Equal(t, uint8(18), d)

		assert.Equal(t, int64(2), calls.Load())
	})
	t.Run("Should hash call keys deterministically", func(t *testing.T) {
		a := CallKey{EffectId: "decimals", Input: `{"token":"0xwbtc"}`}
		b := CallKey{EffectId: "decimals", Input: `{"token":"0xwbtc"}`}
		c := CallKey{EffectId: "decimals", Input: `{"token":"0xweth"}`}
		assert.Equal(t, a.Hash(), b.Hash())
		assert.NotEqual(t, a.Hash(), c.Hash())
		assert.Len(t, a.Hash(), 66)
	})
}
