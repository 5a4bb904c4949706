// Package executionContext is the per-event facade handler code runs against.
//
// A Loader exposes logging, effects and committed entity reads. A Handler adds staging
// of sets and deletes into the event's ChangeSet. Reads never see staged changes.
package executionContext

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"go.uber.org/zap"
)

var ErrContextClosed = errors.New("execution context used after its phase ended")

// Store is the committed read surface of the entity store.
type Store interface {
	Get(entityType string, id string) ([]byte, bool, error)
	GetWhere(entityType string, field string, value string) ([][]byte, error)
}

type LoaderContext interface {
	effects.Caller
	Event() *events.Event
	Log() *zap.Logger

	get(entityType string, id string) ([]byte, bool, error)
	getWhere(entityType string, field string, value string) ([][]byte, error)
}

type HandlerContext interface {
	LoaderContext

	stage(change *entityStore.Change) error
}

type Loader struct {
	event   *events.Event
	store   Store
	effects effects.Caller
	logger  *zap.Logger

	effectCalls atomic.Int64
	closed      atomic.Bool
}

func NewLoader(event *events.Event, store Store, caller effects.Caller, l *zap.Logger) *Loader {
	fields := append(event.Coordinates.ZapFields(),
		zap.String("contract", event.ContractName),
		zap.String("event", event.EventName),
	)
	return &Loader{
		event:   event,
		store:   store,
		effects: caller,
		logger:  l.With(fields...),
	}
}

func (c *Loader) Event() *events.Event {
	return c.event
}

// Log returns a logger tagged with the event's coordinates.
func (c *Loader) Log() *zap.Logger {
	return c.logger
}

// Call runs an effect through the shared effect cache.
func (c *Loader) Call(ctx context.Context, effectId string, input any) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrContextClosed
	}
	c.effectCalls.Add(1)
	return c.effects.Call(ctx, effectId, input)
}

func (c *Loader) EffectCalls() int64 {
	return c.effectCalls.Load()
}

// Close ends the phase; later calls through this context fail with ErrContextClosed.
func (c *Loader) Close() {
	c.closed.Store(true)
}

func (c *Loader) get(entityType string, id string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrContextClosed
	}
	return c.store.Get(entityType, id)
}

func (c *Loader) getWhere(entityType string, field string, value string) ([][]byte, error) {
	if c.closed.Load() {
		return nil, ErrContextClosed
	}
	return c.store.GetWhere(entityType, field, value)
}

type Handler struct {
	*Loader
	changeSet *entityStore.ChangeSet
}

// NewHandler binds a handler context to changeSet, which must belong to event.
func NewHandler(event *events.Event, store Store, caller effects.Caller, changeSet *entityStore.ChangeSet, l *zap.Logger) *Handler {
	return &Handler{
		Loader:    NewLoader(event, store, caller, l),
		changeSet: changeSet,
	}
}

func (c *Handler) ChangeSet() *entityStore.ChangeSet {
	return c.changeSet
}

func (c *Handler) stage(change *entityStore.Change) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	return c.changeSet.Stage(change)
}
