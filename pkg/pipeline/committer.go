package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventProcessor"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers"
	"github.com/Layr-Labs/unichain-indexer/pkg/utils"
	"go.uber.org/zap"
)

// task is one event holding a lookahead slot. loaded is closed once its loader phase returned,
// invalidated once a reorg cancelled the event.
type task struct {
	loaded      chan struct{}
	invalidated chan struct{}

	// the slot is released once both the loader goroutine and the committer let go of the task
	holders atomic.Int32
	release func()

	mu        sync.Mutex
	processor *eventProcessor.EventProcessor
	reorg     *events.Reorg
}

func newTask(processor *eventProcessor.EventProcessor, release func()) *task {
	t := &task{
		loaded:      make(chan struct{}),
		invalidated: make(chan struct{}),
		release:     release,
		processor:   processor,
	}
	t.holders.Store(2)
	return t
}

func (t *task) drop() {
	if t.holders.Add(-1) == 0 {
		t.release()
	}
}

func (t *task) currentProcessor() *eventProcessor.EventProcessor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processor
}

func (t *task) coordinates() events.Coordinates {
	return t.currentProcessor().Coordinates()
}

// renew swaps in a fresh processor for a retry. It returns nil if the task was invalidated.
func (t *task) renew(create func() *eventProcessor.EventProcessor) *eventProcessor.EventProcessor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reorg != nil {
		return nil
	}
	t.processor = create()
	return t.processor
}

func (t *task) invalidate(reorg *events.Reorg) {
	t.mu.Lock()
	if t.reorg != nil {
		t.mu.Unlock()
		return
	}
	t.reorg = reorg
	processor := t.processor
	close(t.invalidated)
	t.mu.Unlock()
	_ = processor.Invalidate(reorg)
}

func (t *task) invalidation() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reorg == nil {
		return nil
	}
	return &eventProcessor.ReorgInvalidation{Coordinates: t.processor.Coordinates(), Reorg: t.reorg}
}

type queueItem struct {
	task   *task
	marker chan struct{}
}

// committer runs the handler and commit phases of one chain, one event at a time.
type committer struct {
	pipeline *Pipeline
	chainId  uint64
	queue    chan *queueItem

	mu          sync.Mutex
	pending     []*task
	last        events.Coordinates
	hasLast     bool
	prunedBelow uint64
}

func newCommitter(p *Pipeline, chainId uint64) *committer {
	return &committer{
		pipeline: p,
		chainId:  chainId,
		queue:    make(chan *queueItem, p.config.LookaheadWindow+1),
	}
}

func (c *committer) lastEnqueued() (events.Coordinates, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

func (c *committer) setLastEnqueued(coords events.Coordinates, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = coords
	c.hasLast = ok
}

// push never blocks: the queue holds at most one slot per lookahead task plus one marker.
func (c *committer) push(t *task) {
	c.mu.Lock()
	c.pending = append(c.pending, t)
	c.last = t.coordinates()
	c.hasLast = true
	c.mu.Unlock()
	c.queue <- &queueItem{task: t}
}

func (c *committer) done(t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// invalidateFrom cancels every pending event at or above the first reorged block.
func (c *committer) invalidateFrom(reorg *events.Reorg) int {
	c.mu.Lock()
	pending := make([]*task, len(c.pending))
	copy(pending, c.pending)
	c.mu.Unlock()

	count := 0
	for _, t := range pending {
		if t.coordinates().BlockNumber >= reorg.FromBlock {
			t.invalidate(reorg)
			count++
		}
	}
	return count
}

// waitForMarker returns once every event queued before it has been committed or dropped.
func (c *committer) waitForMarker(ctx context.Context) error {
	marker := make(chan struct{})
	select {
	case c.queue <- &queueItem{marker: marker}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *committer) close() {
	close(c.queue)
}

func (c *committer) run(ctx context.Context) error {
	for {
		var item *queueItem
		var ok bool
		select {
		case <-ctx.Done():
			c.discardPending(ctx.Err())
			return ctx.Err()
		case item, ok = <-c.queue:
		}
		if !ok {
			return nil
		}
		if item.marker != nil {
			close(item.marker)
			continue
		}

		err := c.process(ctx, item.task)
		c.done(item.task)
		item.task.drop()
		if err != nil {
			c.discardPending(err)
			return err
		}
	}
}

func (c *committer) discardPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, t := range pending {
		t.currentProcessor().Discard(cause)
	}
}

func (c *committer) process(ctx context.Context, t *task) error {
	p := c.pipeline
	// an invalidated loader's result is discarded, not awaited
	select {
	case <-t.loaded:
	case <-t.invalidated:
	case <-ctx.Done():
		return ctx.Err()
	}
	if t.invalidation() != nil {
		p.publishRolledBack(t.coordinates(), "reorg")
		return nil
	}

	processor := t.currentProcessor()
	first := true
	err := utils.WithRetry(ctx, p.config.HandlerMaxRetries, p.config.HandlerRetryDelay, func(ctx context.Context) error {
		var err error
		if first {
			first = false
			if err = processor.Handle(); err == nil {
				err = processor.Commit()
			}
		} else {
			next := t.renew(func() *eventProcessor.EventProcessor {
				return p.newProcessor(ctx, processor.Event(), registrationOf(p.registry, processor.Event()))
			})
			if next == nil {
				return utils.Permanent(t.invalidation())
			}
			processor = next
			err = processor.Process()
		}
		if err == nil {
			return nil
		}
		if eventProcessor.IsRecoverable(err) && t.invalidation() == nil {
			p.logger.Debug("Retrying event", append(processor.Coordinates().ZapFields(), zap.Error(err))...)
			return err
		}
		return utils.Permanent(err)
	})

	coords := processor.Coordinates()
	switch {
	case err == nil:
		p.publishCommitted(processor.CommitRecord())
		return p.maybePrune(ctx, c, coords)
	case eventProcessor.IsReorgInvalidation(err) || t.invalidation() != nil:
		p.publishRolledBack(coords, "reorg")
		return nil
	case eventProcessor.IsFatal(err):
		p.logger.Error("Fatal store failure", append(coords.ZapFields(), zap.Error(err))...)
		return err
	case eventProcessor.IsRecoverable(err):
		return c.applyFailurePolicy(processor, err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		p.logger.Error("Unexpected event failure", append(coords.ZapFields(), zap.Error(err))...)
		return err
	}
}

func (c *committer) applyFailurePolicy(processor *eventProcessor.EventProcessor, err error) error {
	p := c.pipeline
	event := processor.Event()
	fields := append(event.Coordinates.ZapFields(),
		zap.String("contract", event.ContractName),
		zap.String("event", event.EventName),
		zap.String("policy", string(p.config.HandlerFailurePolicy)),
		zap.Error(err),
	)
	_ = p.metrics.Incr(metricsTypes.Metric_Incr_EventFailed, []metricsTypes.MetricsLabel{
		{Name: "chainId", Value: strconv.FormatUint(event.ChainId, 10)},
	}, 1)
	p.publishFailed(event.Coordinates, err)

	if p.config.HandlerFailurePolicy == config.HandlerFailurePolicy_Halt {
		p.logger.Error("Event failed, halting", fields...)
		return err
	}
	p.logger.Warn("Event failed, skipping", fields...)
	return nil
}

func registrationOf(registry *handlers.Registry, event *events.Event) *handlers.Registration {
	registration, _ := registry.Lookup(event)
	return registration
}
