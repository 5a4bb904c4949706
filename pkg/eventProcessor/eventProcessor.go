// Package eventProcessor drives a single event through its loader, handler and commit phases.
package eventProcessor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/executionContext"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers"
	"go.uber.org/zap"
)

type State int

const (
	State_Loading State = iota
	State_Handling
	State_Committing
	State_Committed
	State_RolledBack
)

func (s State) String() string {
	switch s {
	case State_Loading:
		return "loading"
	case State_Handling:
		return "handling"
	case State_Committing:
		return "committing"
	case State_Committed:
		return "committed"
	case State_RolledBack:
		return "rolledBack"
	}
	return "unknown"
}

func (s State) IsTerminal() bool {
	return s == State_Committed || s == State_RolledBack
}

var transitions = map[State][]State{
	State_Loading:    {State_Handling, State_RolledBack},
	State_Handling:   {State_Committing, State_RolledBack},
	State_Committing: {State_Committed, State_RolledBack},
}

// Store is what a processor needs from the entity store.
type Store interface {
	executionContext.Store
	Commit(ctx context.Context, cs *entityStore.ChangeSet) (*entityStore.CommitRecord, error)
}

type EventProcessor struct {
	event        *events.Event
	registration *handlers.Registration
	store        Store
	effects      effects.Caller
	logger       *zap.Logger
	metrics      *metrics.MetricsSink

	// cancelled on reorg invalidation
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	loaded    any
	changeSet *entityStore.ChangeSet
	record    *entityStore.CommitRecord
	err       error
}

func NewEventProcessor(
	ctx context.Context,
	event *events.Event,
	registration *handlers.Registration,
	store Store,
	caller effects.Caller,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *EventProcessor {
	pctx, cancel := context.WithCancel(ctx)
	return &EventProcessor{
		event:        event,
		registration: registration,
		store:        store,
		effects:      caller,
		logger:       l,
		metrics:      ms,
		ctx:          pctx,
		cancel:       cancel,
		state:        State_Loading,
	}
}

func (p *EventProcessor) Event() *events.Event {
	return p.event
}

func (p *EventProcessor) Coordinates() events.Coordinates {
	return p.event.Coordinates
}

func (p *EventProcessor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error that rolled the processor back, if any.
func (p *EventProcessor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// CommitRecord is set once the processor reaches Committed.
func (p *EventProcessor) CommitRecord() *entityStore.CommitRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record
}

func (p *EventProcessor) transitionLocked(to State) error {
	for _, allowed := range transitions[p.state] {
		if allowed == to {
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s for event %s", ErrInvalidTransition, p.state, to, p.event.Coordinates)
}

func (p *EventProcessor) transition(from State, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		if p.state == State_RolledBack && p.err != nil {
			return p.err
		}
		return fmt.Errorf("%w: expected %s, in %s for event %s", ErrInvalidTransition, from, p.state, p.event.Coordinates)
	}
	return p.transitionLocked(to)
}

// rollback moves a non-terminal processor to RolledBack and discards its change set.
// The first cause wins.
func (p *EventProcessor) rollback(cause error, reason string) error {
	return p.rollbackUnless(cause, reason, nil)
}

// rollbackUnless is rollback, except that it returns ErrInvalidTransition without touching the
// processor if its current state is in skip.
func (p *EventProcessor) rollbackUnless(cause error, reason string, skip []State) error {
	p.mu.Lock()
	for _, s := range skip {
		if p.state == s {
			state := p.state
			p.mu.Unlock()
			return fmt.Errorf("%w: event %s is %s", ErrInvalidTransition, p.event.Coordinates, state)
		}
	}
	if p.state.IsTerminal() {
		existing := p.err
		p.mu.Unlock()
		if existing != nil {
			return existing
		}
		return cause
	}
	_ = p.transitionLocked(State_RolledBack)
	p.err = cause
	if p.changeSet != nil {
		p.changeSet.Discard()
	}
	p.mu.Unlock()

	p.cancel()
	_ = p.metrics.Incr(metricsTypes.Metric_Incr_EventRolledBack, []metricsTypes.MetricsLabel{
		{Name: "chainId", Value: p.chainLabel()},
		{Name: "reason", Value: reason},
	}, 1)
	return cause
}

func (p *EventProcessor) chainLabel() string {
	return strconv.FormatUint(p.event.ChainId, 10)
}

func (p *EventProcessor) timing(name string, start time.Time) {
	_ = p.metrics.Timing(name, time.Since(start), []metricsTypes.MetricsLabel{
		{Name: "chainId", Value: p.chainLabel()},
	})
}

func (p *EventProcessor) handlerFailure(phase string, err error) error {
	if invalidation := p.invalidation(); invalidation != nil {
		return invalidation
	}
	failure := &HandlerFailure{Coordinates: p.event.Coordinates, Phase: phase, Err: err}
	p.logger.Warn("Event failed",
		append(p.event.Coordinates.ZapFields(),
			zap.String("phase", phase),
			zap.String("contract", p.event.ContractName),
			zap.String("event", p.event.EventName),
			zap.Error(err),
		)...,
	)
	return p.rollback(failure, "handlerFailure")
}

func (p *EventProcessor) invalidation() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == State_RolledBack && IsReorgInvalidation(p.err) {
		return p.err
	}
	return nil
}

// Load runs the loader phase. It may run concurrently with other events' loaders.
func (p *EventProcessor) Load() error {
	p.mu.Lock()
	state := p.state
	err := p.err
	p.mu.Unlock()
	if state != State_Loading {
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: load called in %s for event %s", ErrInvalidTransition, state, p.event.Coordinates)
	}
	if p.registration.Loader == nil {
		return nil
	}

	start := time.Now()
	defer p.timing(metricsTypes.Metric_Timing_EventLoadDuration, start)

	lc := executionContext.NewLoader(p.event, p.store, p.effects, p.logger)
	defer lc.Close()

	loaded, err := safeRun(func() (any, error) {
		return p.registration.Loader(p.ctx, lc, p.event)
	})
	if err != nil {
		return p.handlerFailure("load", err)
	}
	if invalidation := p.invalidation(); invalidation != nil {
		return invalidation
	}
	p.mu.Lock()
	p.loaded = loaded
	p.mu.Unlock()
	return nil
}

// Handle runs the handler phase against a fresh change set. Handle must only run once every
// earlier event of the same chain is terminal.
func (p *EventProcessor) Handle() error {
	if err := p.transition(State_Loading, State_Handling); err != nil {
		return err
	}
	p.mu.Lock()
	p.changeSet = entityStore.NewChangeSet(p.event.Coordinates)
	loaded := p.loaded
	cs := p.changeSet
	p.mu.Unlock()

	start := time.Now()
	defer p.timing(metricsTypes.Metric_Timing_EventHandleDuration, start)

	hc := executionContext.NewHandler(p.event, p.store, p.effects, cs, p.logger)
	defer hc.Close()

	_, err := safeRun(func() (any, error) {
		return nil, p.registration.Handler(p.ctx, hc, p.event, loaded)
	})
	if err != nil {
		return p.handlerFailure("handle", err)
	}
	if invalidation := p.invalidation(); invalidation != nil {
		return invalidation
	}
	return nil
}

// Commit applies the change set to the store. A store error is a StoreFailure.
func (p *EventProcessor) Commit() error {
	if err := p.transition(State_Handling, State_Committing); err != nil {
		return err
	}
	p.mu.Lock()
	cs := p.changeSet
	p.mu.Unlock()

	start := time.Now()
	record, err := p.store.Commit(context.WithoutCancel(p.ctx), cs)
	p.timing(metricsTypes.Metric_Timing_EventCommitDuration, start)
	if err != nil {
		if errors.Is(err, entityStore.ErrOutOfOrder) || errors.Is(err, entityStore.ErrInvalidChange) ||
			errors.Is(err, entityStore.ErrUnknownEntityType) {
			return p.handlerFailure("commit", err)
		}
		failure := &StoreFailure{Coordinates: p.event.Coordinates, Err: err}
		p.logger.Error("Failed to commit event",
			append(p.event.Coordinates.ZapFields(), zap.Error(err))...,
		)
		return p.rollback(failure, "storeFailure")
	}

	p.mu.Lock()
	_ = p.transitionLocked(State_Committed)
	p.record = record
	p.mu.Unlock()
	p.cancel()

	labels := []metricsTypes.MetricsLabel{{Name: "chainId", Value: p.chainLabel()}}
	_ = p.metrics.Incr(metricsTypes.Metric_Incr_EventProcessed, labels, 1)
	_ = p.metrics.Gauge(metricsTypes.Metric_Gauge_LastCommittedBlock, float64(p.event.BlockNumber), labels)
	return nil
}

// Process runs every phase in order.
func (p *EventProcessor) Process() error {
	if err := p.Load(); err != nil {
		return err
	}
	if err := p.Handle(); err != nil {
		return err
	}
	return p.Commit()
}

// Invalidate rolls back an in-flight event because of a reorg. Events that are committing or
// committed are left alone and reported with ErrInvalidTransition; the store rolls those back.
func (p *EventProcessor) Invalidate(reorg *events.Reorg) error {
	err := p.rollbackUnless(
		&ReorgInvalidation{Coordinates: p.event.Coordinates, Reorg: reorg},
		"reorg",
		[]State{State_Committing, State_Committed},
	)
	if errors.Is(err, ErrInvalidTransition) {
		return err
	}
	p.logger.Debug("Invalidated in-flight event", p.event.Coordinates.ZapFields()...)
	return nil
}

// Discard rolls back a processor that will not be handled, e.g. on pipeline shutdown.
func (p *EventProcessor) Discard(cause error) {
	_ = p.rollback(cause, "discarded")
}

func safeRun(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
