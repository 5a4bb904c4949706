package executionContext

import (
	"fmt"

	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
)

// EntityReader is the typed read surface for one entity type.
type EntityReader[T entityStore.Entity] struct {
	ctx    LoaderContext
	schema *entityStore.Schema[T]
}

func Reader[T entityStore.Entity](ctx LoaderContext, schema *entityStore.Schema[T]) *EntityReader[T] {
	return &EntityReader[T]{ctx: ctx, schema: schema}
}

// Get returns the latest committed entity with id. Changes staged by the current event are not visible.
func (r *EntityReader[T]) Get(id string) (T, bool, error) {
	var zero T
	data, found, err := r.ctx.get(r.schema.EntityType(), id)
	if err != nil || !found {
		return zero, false, err
	}
	entity, err := r.schema.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return entity, true, nil
}

// GetWhere returns committed entities whose indexed field equals value, ordered by id.
func (r *EntityReader[T]) GetWhere(field string, value string) ([]T, error) {
	if !r.schema.HasIndex(field) {
		return nil, fmt.Errorf("%w: %s.%s", entityStore.ErrUnknownIndex, r.schema.EntityType(), field)
	}
	results, err := r.ctx.getWhere(r.schema.EntityType(), field, value)
	if err != nil {
		return nil, err
	}
	entities := make([]T, 0, len(results))
	for _, data := range results {
		entity, err := r.schema.Decode(data)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

type EntityWriter[T entityStore.Entity] struct {
	*EntityReader[T]
	ctx HandlerContext
}

func Writer[T entityStore.Entity](ctx HandlerContext, schema *entityStore.Schema[T]) *EntityWriter[T] {
	return &EntityWriter[T]{
		EntityReader: Reader(ctx, schema),
		ctx:          ctx,
	}
}

// Set stages an upsert. A later Set for the same id in the same event replaces it.
func (w *EntityWriter[T]) Set(entity T) error {
	change, err := w.schema.NewSetChange(entity)
	if err != nil {
		return err
	}
	return w.ctx.stage(change)
}

// DeleteUnsafe stages a delete of id. Entities referencing id are not touched.
func (w *EntityWriter[T]) DeleteUnsafe(id string) error {
	change, err := w.schema.NewDeleteChange(id)
	if err != nil {
		return err
	}
	return w.ctx.stage(change)
}
