// Package pipeline schedules events from a feed through event processors.
//
// Loader phases of a bounded lookahead window run concurrently. Handler and commit phases run
// strictly in order on one committer goroutine per chain. Reorg notifications cancel in-flight
// events of the chain and roll committed ones back, newest first.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventProcessor"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/feed"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Store is the entity store surface the pipeline drives.
type Store interface {
	eventProcessor.Store
	LastCommitted(chainId uint64) (events.Coordinates, bool)
	RollbackFrom(ctx context.Context, chainId uint64, fromBlock uint64) ([]events.Coordinates, error)
	Prune(ctx context.Context, chainId uint64, belowBlock uint64) (int, error)
}

type Pipeline struct {
	feed     feed.Feed
	registry *handlers.Registry
	store    Store
	effects  effects.Caller
	eventBus eventBusTypes.IEventBus
	metrics  *metrics.MetricsSink
	logger   *zap.Logger
	config   config.PipelineConfig

	window   *semaphore.Weighted
	inFlight atomic.Int64

	chainsLock sync.Mutex
	chains     map[uint64]*committer
}

// NewPipeline creates a pipeline. eventBus may be nil.
func NewPipeline(
	f feed.Feed,
	registry *handlers.Registry,
	store Store,
	caller effects.Caller,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	cfg config.PipelineConfig,
	l *zap.Logger,
) *Pipeline {
	if cfg.LookaheadWindow <= 0 {
		cfg.LookaheadWindow = 64
	}
	if cfg.LoaderWorkers <= 0 || cfg.LoaderWorkers > cfg.LookaheadWindow {
		cfg.LoaderWorkers = cfg.LookaheadWindow
	}
	if cfg.HandlerFailurePolicy == "" {
		cfg.HandlerFailurePolicy = config.HandlerFailurePolicy_Skip
	}
	return &Pipeline{
		feed:     f,
		registry: registry,
		store:    store,
		effects:  caller,
		eventBus: eb,
		metrics:  ms,
		logger:   l,
		config:   cfg,
		window:   semaphore.NewWeighted(int64(cfg.LookaheadWindow)),
		chains:   make(map[uint64]*committer),
	}
}

// Checkpoint returns the last committed event of a chain.
func (p *Pipeline) Checkpoint(chainId uint64) (events.Coordinates, bool) {
	return p.store.LastCommitted(chainId)
}

// InFlight is the number of events holding a lookahead slot.
func (p *Pipeline) InFlight() int64 {
	return p.inFlight.Load()
}

// Run consumes the feed until it ends, ctx is cancelled, or a fatal error occurs.
// Cancelling ctx is a clean shutdown and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	loaders := &errgroup.Group{}
	loaders.SetLimit(p.config.LoaderWorkers)

	err := p.ingest(gctx, g, loaders)

	p.closeCommitters()
	_ = loaders.Wait()
	if werr := g.Wait(); werr != nil {
		err = werr
	}

	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		p.logger.Sugar().Infow("Pipeline stopped")
		return nil
	}
	return err
}

func (p *Pipeline) ingest(ctx context.Context, g *errgroup.Group, loaders *errgroup.Group) error {
	for {
		item, err := p.feed.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Sugar().Infow("Feed exhausted")
				return nil
			}
			return err
		}
		if err := item.Validate(); err != nil {
			return err
		}

		if item.Reorg != nil {
			if err := p.handleReorg(ctx, item.Reorg); err != nil {
				return err
			}
			continue
		}
		if err := p.enqueue(ctx, g, loaders, item.Event); err != nil {
			return err
		}
	}
}

func (p *Pipeline) enqueue(ctx context.Context, g *errgroup.Group, loaders *errgroup.Group, event *events.Event) error {
	registration, ok := p.registry.Lookup(event)
	if !ok {
		p.logger.Sugar().Debugw("No handler registered for event",
			zap.String("contract", event.ContractName),
			zap.String("event", event.EventName),
		)
		return nil
	}

	c := p.committerFor(ctx, g, event.ChainId)
	if last, ok := c.lastEnqueued(); ok && !last.Less(event.Coordinates) {
		p.logger.Warn("Skipping event at or before the last accepted event of its chain",
			append(event.Coordinates.ZapFields(), zap.String("last", last.String()))...,
		)
		return nil
	}

	if err := p.window.Acquire(ctx, 1); err != nil {
		return err
	}
	p.setInFlight(p.inFlight.Add(1))

	t := newTask(p.newProcessor(ctx, event, registration), p.release)
	c.push(t)
	loaders.Go(func() error {
		defer t.drop()
		defer close(t.loaded)
		_ = t.currentProcessor().Load()
		return nil
	})
	return nil
}

func (p *Pipeline) newProcessor(ctx context.Context, event *events.Event, registration *handlers.Registration) *eventProcessor.EventProcessor {
	return eventProcessor.NewEventProcessor(ctx, event, registration, p.store, p.effects, p.metrics, p.logger)
}

func (p *Pipeline) release() {
	p.window.Release(1)
	p.setInFlight(p.inFlight.Add(-1))
}

func (p *Pipeline) setInFlight(n int64) {
	_ = p.metrics.Gauge(metricsTypes.Metric_Gauge_LookaheadInFlight, float64(n), nil)
}

func (p *Pipeline) committerFor(ctx context.Context, g *errgroup.Group, chainId uint64) *committer {
	p.chainsLock.Lock()
	defer p.chainsLock.Unlock()
	if c, ok := p.chains[chainId]; ok {
		return c
	}
	c := newCommitter(p, chainId)
	if last, ok := p.store.LastCommitted(chainId); ok {
		c.setLastEnqueued(last, true)
	}
	p.chains[chainId] = c
	g.Go(func() error {
		return c.run(ctx)
	})
	return c
}

func (p *Pipeline) existingCommitter(chainId uint64) (*committer, bool) {
	p.chainsLock.Lock()
	defer p.chainsLock.Unlock()
	c, ok := p.chains[chainId]
	return c, ok
}

func (p *Pipeline) closeCommitters() {
	p.chainsLock.Lock()
	defer p.chainsLock.Unlock()
	for _, c := range p.chains {
		c.close()
	}
}

func (p *Pipeline) handleReorg(ctx context.Context, reorg *events.Reorg) error {
	p.logger.Sugar().Infow("Handling reorg",
		zap.Uint64("chainId", reorg.ChainId),
		zap.Uint64("fromBlock", reorg.FromBlock),
		zap.Uint64("toBlock", reorg.ToBlock),
	)

	c, ok := p.existingCommitter(reorg.ChainId)
	if ok {
		invalidated := c.invalidateFrom(reorg)
		if err := c.waitForMarker(ctx); err != nil {
			return err
		}
		p.logger.Sugar().Debugw("Invalidated in-flight events",
			zap.Uint64("chainId", reorg.ChainId),
			zap.Int("count", invalidated),
		)
	}

	reverted, err := p.store.RollbackFrom(ctx, reorg.ChainId, reorg.FromBlock)
	if err != nil {
		var persistenceErr *entityStore.PersistenceError
		if errors.As(err, &persistenceErr) {
			return &eventProcessor.StoreFailure{
				Coordinates: events.Coordinates{ChainId: reorg.ChainId, BlockNumber: reorg.FromBlock},
				Err:         err,
			}
		}
		return fmt.Errorf("failed to roll back chain %d from block %d: %w", reorg.ChainId, reorg.FromBlock, err)
	}

	if ok {
		last, found := p.store.LastCommitted(reorg.ChainId)
		c.setLastEnqueued(last, found)
	}

	labels := []metricsTypes.MetricsLabel{{Name: "chainId", Value: strconv.FormatUint(reorg.ChainId, 10)}}
	_ = p.metrics.Incr(metricsTypes.Metric_Incr_ReorgHandled, labels, 1)
	for _, coords := range reverted {
		p.publishRolledBack(coords, "reorg")
	}
	p.publishReorgHandled(reorg, reverted)

	p.logger.Sugar().Infow("Reorg handled",
		zap.Uint64("chainId", reorg.ChainId),
		zap.Uint64("fromBlock", reorg.FromBlock),
		zap.Int("reverted", len(reverted)),
	)
	return nil
}

func (p *Pipeline) maybePrune(ctx context.Context, c *committer, committed events.Coordinates) error {
	depth := p.config.MaxReorgDepth
	if depth == 0 || committed.BlockNumber <= depth {
		return nil
	}
	below := committed.BlockNumber - depth
	if below <= c.prunedBelow {
		return nil
	}
	if _, err := p.store.Prune(ctx, committed.ChainId, below); err != nil {
		return &eventProcessor.StoreFailure{Coordinates: committed, Err: err}
	}
	c.prunedBelow = below
	return nil
}
