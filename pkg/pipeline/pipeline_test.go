package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventProcessor"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/executionContext"
	"github.com/Layr-Labs/unichain-indexer/pkg/feed"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testChainId = 130

type swap struct {
	Id     string `json:"id"`
	Amount int    `json:"amount"`
}

func (s *swap) GetId() string {
	return s.Id
}

var swapSchema = entityStore.NewSchema[*swap]("Swap")

type swapParams struct {
	Id     string `json:"id"`
	Amount int    `json:"amount"`
	Fail   bool   `json:"fail"`
	Hold   bool   `json:"hold"`
}

type fixture struct {
	store       *entityStore.EntityStore
	persistence *entityStore.MemoryPersistence
	cache       *effects.EffectCache
	registry    *handlers.Registry
	invocations *atomic.Int64
	handled     *atomic.Int64
	logger      *zap.Logger
}

type fixtureOptions struct {
	loaderGate  chan struct{}
	loadersLive *atomic.Int64
	loadersMax  *atomic.Int64
	// holds loaders of events marked Hold without observing their context
	holdGate chan struct{}
}

func setup(t *testing.T, opts *fixtureOptions) *fixture {
	l := tests.GetLogger()
	p := entityStore.NewMemoryPersistence()
	store := entityStore.NewEntityStore(p, l)
	require.NoError(t, store.Register(swapSchema))

	invocations := &atomic.Int64{}
	lookup := effects.NewEffect("lookup", func(ctx context.Context, in string) (string, error) {
		invocations.Add(1)
		return "value-of-" + in, nil
	})
	cache := effects.NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
	require.NoError(t, cache.Register(lookup))

	handled := &atomic.Int64{}
	registry := handlers.NewRegistry()
	registry.RegisterSchemas(swapSchema)
	require.NoError(t, registry.Register(&handlers.Registration{
		ContractName: "PoolManager",
		EventName:    "Swap",
		Loader: func(ctx context.Context, lc executionContext.LoaderContext, event *events.Event) (any, error) {
			if opts != nil && opts.loaderGate != nil {
				live := opts.loadersLive.Add(1)
				for {
					seen := opts.loadersMax.Load()
					if live <= seen || opts.loadersMax.CompareAndSwap(seen, live) {
						break
					}
				}
				defer opts.loadersLive.Add(-1)
				select {
				case <-opts.loaderGate:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if opts != nil && opts.holdGate != nil {
				var params swapParams
				if err := event.DecodeParams(&params); err != nil {
					return nil, err
				}
				if params.Hold {
					<-opts.holdGate
				}
			}
			return lookup.Call(ctx, lc, "K")
		},
		Handler: func(ctx context.Context, hc executionContext.HandlerContext, event *events.Event, loaded any) error {
			handled.Add(1)
			var params swapParams
			if err := event.DecodeParams(&params); err != nil {
				return err
			}
			if params.Fail {
				return errors.New("handler rejected event")
			}
			return executionContext.Writer(hc, swapSchema).Set(&swap{Id: params.Id, Amount: params.Amount})
		},
	}))

	return &fixture{
		store:       store,
		persistence: p,
		cache:       cache,
		registry:    registry,
		invocations: invocations,
		handled:     handled,
		logger:      l,
	}
}

func swapEvent(t *testing.T, block, logIndex uint64, params swapParams) *events.FeedItem {
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return feed.EventItem(&events.Event{
		Coordinates:  events.Coordinates{ChainId: testChainId, BlockNumber: block, LogIndex: logIndex},
		ContractName: "PoolManager",
		EventName:    "Swap",
		Params:       raw,
	})
}

func defaultConfig() config.PipelineConfig {
	return config.PipelineConfig{
		LookaheadWindow:      8,
		LoaderWorkers:        4,
		HandlerMaxRetries:    0,
		HandlerRetryDelay:    time.Millisecond,
		HandlerFailurePolicy: config.HandlerFailurePolicy_Skip,
	}
}

func (f *fixture) pipeline(fd feed.Feed, eb eventBusTypes.IEventBus, cfg config.PipelineConfig) *Pipeline {
	return NewPipeline(fd, f.registry, f.store, f.cache, eb, metrics.NewNoopMetricsSink(), cfg, f.logger)
}

func (f *fixture) amount(t *testing.T, id string) (int, bool) {
	data, found, err := f.store.Get("Swap", id)
	require.NoError(t, err)
	if !found {
		return 0, false
	}
	s, err := swapSchema.Decode(data)
	require.NoError(t, err)
	return s.Amount, true
}

func Test_Pipeline(t *testing.T) {
	t.Run("Should commit events in order and share effect results", func(t *testing.T) {
		f := setup(t, nil)
		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 5}),
			swapEvent(t, 100, 1, swapParams{Id: "1", Amount: 7}),
		)
		p := f.pipeline(fd, nil, defaultConfig())
		require.NoError(t, p.Run(context.Background()))

		amount, found := f.amount(t, "1")
		require.True(t, found)
		assert.Equal(t, 7, amount)
		assert.Equal(t, int64(1), f.invocations.Load())

		checkpoint, ok := p.Checkpoint(testChainId)
		require.True(t, ok)
		assert.Equal(t, events.Coordinates{ChainId: testChainId, BlockNumber: 100, LogIndex: 1}, checkpoint)
		assert.Equal(t, int64(0), p.InFlight())
	})
	t.Run("Should skip events that are not registered", func(t *testing.T) {
		f := setup(t, nil)
		fd := feed.NewSliceFeed(feed.EventItem(&events.Event{
			Coordinates:  events.Coordinates{ChainId: testChainId, BlockNumber: 100},
			ContractName: "PoolManager",
			EventName:    "Donate",
		}))
		p := f.pipeline(fd, nil, defaultConfig())
		require.NoError(t, p.Run(context.Background()))
		assert.Equal(t, int64(0), f.handled.Load())
	})
	t.Run("Should ignore duplicate and out of order events", func(t *testing.T) {
		f := setup(t, nil)
		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 1, swapParams{Id: "1", Amount: 5}),
			swapEvent(t, 100, 1, swapParams{Id: "1", Amount: 6}),
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 7}),
		)
		require.NoError(t, f.pipeline(fd, nil, defaultConfig()).Run(context.Background()))
		amount, _ := f.amount(t, "1")
		assert.Equal(t, 5, amount)
		assert.Equal(t, int64(1), f.handled.Load())
	})
	t.Run("Should roll back committed events on reorg newest first", func(t *testing.T) {
		f := setup(t, nil)
		eb := eventBus.NewEventBus(f.logger)
		consumer := eventBusTypes.NewConsumer(context.Background(), 100, eventBusTypes.EventName_ReorgHandled)
		eb.Subscribe(consumer)

		fd := feed.NewSliceFeed(
			swapEvent(t, 99, 0, swapParams{Id: "0", Amount: 1}),
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 5}),
			swapEvent(t, 101, 0, swapParams{Id: "2", Amount: 6}),
			feed.ReorgItem(testChainId, 100, 0),
		)
		p := f.pipeline(fd, eb, defaultConfig())
		require.NoError(t, p.Run(context.Background()))

		_, found := f.amount(t, "1")
		assert.False(t, found)
		_, found = f.amount(t, "2")
		assert.False(t, found)
		amount, found := f.amount(t, "0")
		require.True(t, found)
		assert.Equal(t, 1, amount)

		checkpoint, ok := p.Checkpoint(testChainId)
		require.True(t, ok)
		assert.Equal(t, uint64(99), checkpoint.BlockNumber)

		select {
		case ev := <-consumer.Channel:
			data := ev.Data.(*eventBusTypes.ReorgHandledData)
			require.Len(t, data.Reverted, 2)
			assert.Equal(t, uint64(101), data.Reverted[0].BlockNumber)
			assert.Equal(t, uint64(100), data.Reverted[1].BlockNumber)
		case <-time.After(time.Second):
			t.Fatal("reorg_handled was not published")
		}
	})
	t.Run("Should accept replayed events after a reorg", func(t *testing.T) {
		f := setup(t, nil)
		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 5}),
			feed.ReorgItem(testChainId, 100, 100),
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 8}),
		)
		require.NoError(t, f.pipeline(fd, nil, defaultConfig()).Run(context.Background()))
		amount, found := f.amount(t, "1")
		require.True(t, found)
		assert.Equal(t, 8, amount)
	})
	t.Run("Should handle a reorg without waiting for an invalidated loader", func(t *testing.T) {
		opts := &fixtureOptions{holdGate: make(chan struct{})}
		f := setup(t, opts)
		eb := eventBus.NewEventBus(f.logger)
		rolledBack := eventBusTypes.NewConsumer(context.Background(), 100, eventBusTypes.EventName_EventRolledBack)
		reorgs := eventBusTypes.NewConsumer(context.Background(), 100, eventBusTypes.EventName_ReorgHandled)
		eb.Subscribe(rolledBack)
		eb.Subscribe(reorgs)

		items := make(chan *events.FeedItem)
		p := f.pipeline(feed.NewChannelFeed(items), eb, defaultConfig())
		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()

		items <- swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 5, Hold: true})
		items <- feed.ReorgItem(testChainId, 100, 100)

		select {
		case ev := <-rolledBack.Channel:
			data := ev.Data.(*eventBusTypes.EventRolledBackData)
			assert.Equal(t, uint64(100), data.Coordinates.BlockNumber)
		case <-time.After(time.Second):
			t.Fatal("in-flight event was not rolled back")
		}
		select {
		case <-reorgs.Channel:
		case <-time.After(time.Second):
			t.Fatal("reorg handling waited for the invalidated loader")
		}

		items <- swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 8})
		require.Eventually(t, func() bool {
			amount, found := f.amount(t, "1")
			return found && amount == 8
		}, time.Second, time.Millisecond)
		// the blocked loader still holds its slot
		require.Eventually(t, func() bool {
			return p.InFlight() == 1
		}, time.Second, time.Millisecond)

		close(opts.holdGate)
		close(items)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not finish")
		}
		assert.Equal(t, int64(0), p.InFlight())
		assert.Equal(t, int64(1), f.handled.Load())
	})
	t.Run("Should bound in-flight events by the lookahead window", func(t *testing.T) {
		opts := &fixtureOptions{
			loaderGate:  make(chan struct{}),
			loadersLive: &atomic.Int64{},
			loadersMax:  &atomic.Int64{},
		}
		f := setup(t, opts)
		items := make([]*events.FeedItem, 0, 20)
		for i := 0; i < 20; i++ {
			items = append(items, swapEvent(t, 100+uint64(i), 0, swapParams{Id: fmt.Sprintf("%d", i), Amount: i}))
		}
		fd := feed.NewSliceFeed(items...)
		cfg := defaultConfig()
		cfg.LookaheadWindow = 4
		cfg.LoaderWorkers = 4
		p := f.pipeline(fd, nil, cfg)

		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()

		require.Eventually(t, func() bool {
			return p.InFlight() == 4
		}, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int64(4), p.InFlight())
		assert.LessOrEqual(t, fd.Consumed(), 5)

		close(opts.loaderGate)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not finish")
		}
		assert.LessOrEqual(t, opts.loadersMax.Load(), int64(4))
		assert.Equal(t, int64(20), f.handled.Load())
		amount, found := f.amount(t, "19")
		require.True(t, found)
		assert.Equal(t, 19, amount)
	})
	t.Run("Should stop on a fatal store failure", func(t *testing.T) {
		f := setup(t, nil)
		f.persistence.FailNext = errors.New("disk full")
		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 5}),
			swapEvent(t, 101, 0, swapParams{Id: "2", Amount: 6}),
		)
		err := f.pipeline(fd, nil, defaultConfig()).Run(context.Background())
		require.Error(t, err)
		assert.True(t, eventProcessor.IsFatal(err))

		_, found := f.amount(t, "1")
		assert.False(t, found)
		_, found = f.amount(t, "2")
		assert.False(t, found)
	})
	t.Run("Should skip failing events under the skip policy", func(t *testing.T) {
		f := setup(t, nil)
		eb := eventBus.NewEventBus(f.logger)
		consumer := eventBusTypes.NewConsumer(context.Background(), 100, eventBusTypes.EventName_EventFailed)
		eb.Subscribe(consumer)

		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 0, swapParams{Id: "1", Fail: true}),
			swapEvent(t, 101, 0, swapParams{Id: "2", Amount: 6}),
		)
		cfg := defaultConfig()
		cfg.HandlerMaxRetries = 1
		require.NoError(t, f.pipeline(fd, eb, cfg).Run(context.Background()))

		assert.Equal(t, int64(3), f.handled.Load())
		_, found := f.amount(t, "1")
		assert.False(t, found)
		amount, found := f.amount(t, "2")
		require.True(t, found)
		assert.Equal(t, 6, amount)

		select {
		case ev := <-consumer.Channel:
			data := ev.Data.(*eventBusTypes.EventFailedData)
			assert.Equal(t, uint64(100), data.Coordinates.BlockNumber)
		case <-time.After(time.Second):
			t.Fatal("event_failed was not published")
		}
	})
	t.Run("Should halt on failing events under the halt policy", func(t *testing.T) {
		f := setup(t, nil)
		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 0, swapParams{Id: "1", Fail: true}),
			swapEvent(t, 101, 0, swapParams{Id: "2", Amount: 6}),
		)
		cfg := defaultConfig()
		cfg.HandlerFailurePolicy = config.HandlerFailurePolicy_Halt
		err := f.pipeline(fd, nil, cfg).Run(context.Background())

		var failure *eventProcessor.HandlerFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, uint64(100), failure.Coordinates.BlockNumber)
		_, found := f.amount(t, "2")
		assert.False(t, found)
	})
	t.Run("Should refuse reorgs below the pruned history", func(t *testing.T) {
		f := setup(t, nil)
		fd := feed.NewSliceFeed(
			swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 1}),
			swapEvent(t, 101, 0, swapParams{Id: "1", Amount: 2}),
			swapEvent(t, 102, 0, swapParams{Id: "1", Amount: 3}),
			feed.ReorgItem(testChainId, 100, 0),
		)
		cfg := defaultConfig()
		cfg.MaxReorgDepth = 1
		err := f.pipeline(fd, nil, cfg).Run(context.Background())
		assert.ErrorIs(t, err, entityStore.ErrHistoryPruned)

		amount, _ := f.amount(t, "1")
		assert.Equal(t, 3, amount)
	})
	t.Run("Should return cleanly when the context is cancelled", func(t *testing.T) {
		f := setup(t, nil)
		items := make(chan *events.FeedItem)
		p := f.pipeline(feed.NewChannelFeed(items), nil, defaultConfig())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		items <- swapEvent(t, 100, 0, swapParams{Id: "1", Amount: 5})
		require.Eventually(t, func() bool {
			_, ok := p.Checkpoint(testChainId)
			return ok
		}, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("pipeline did not stop")
		}
	})
}
