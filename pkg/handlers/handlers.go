// Package handlers holds the registry mapping (contract, event) pairs to loader and handler functions.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/executionContext"
)

// LoaderFunc prefetches data for an event. Its result is passed to the HandlerFunc.
type LoaderFunc func(ctx context.Context, lc executionContext.LoaderContext, event *events.Event) (any, error)

type HandlerFunc func(ctx context.Context, hc executionContext.HandlerContext, event *events.Event, loaded any) error

type Registration struct {
	ContractName string
	EventName    string
	// Loader is optional
	Loader  LoaderFunc
	Handler HandlerFunc
}

func (r *Registration) key() string {
	return fmt.Sprintf("%s.%s", r.ContractName, r.EventName)
}

type Registry struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
	schemas       map[string]entityStore.TypeDescriptor
}

func NewRegistry() *Registry {
	return &Registry{
		registrations: make(map[string]*Registration),
		schemas:       make(map[string]entityStore.TypeDescriptor),
	}
}

func (r *Registry) Register(registrations ...*Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range registrations {
		if reg.Handler == nil {
			return fmt.Errorf("registration %s has no handler", reg.key())
		}
		if _, ok := r.registrations[reg.key()]; ok {
			return fmt.Errorf("handler for %s is already registered", reg.key())
		}
		r.registrations[reg.key()] = reg
	}
	return nil
}

// RegisterSchemas records the entity types handlers write, so the store can be set up from the registry.
func (r *Registry) RegisterSchemas(schemas ...entityStore.TypeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemas {
		r.schemas[s.EntityType()] = s
	}
}

func (r *Registry) Schemas() []entityStore.TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]entityStore.TypeDescriptor, 0, len(r.schemas))
	for _, s := range r.schemas {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].EntityType() < schemas[j].EntityType()
	})
	return schemas
}

// Lookup returns the registration for an event, or false if no handler is interested in it.
func (r *Registry) Lookup(event *events.Event) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[fmt.Sprintf("%s.%s", event.ContractName, event.EventName)]
	return reg, ok
}
