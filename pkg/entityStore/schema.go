package entityStore

import (
	"encoding/json"
	"fmt"
)

type Entity interface {
	GetId() string
}

// IndexedField extracts the value of a secondary-indexed field from an entity.
type IndexedField[T Entity] struct {
	Name  string
	Value func(T) string
}

// TypeDescriptor is the untyped view of a Schema the store works with.
type TypeDescriptor interface {
	EntityType() string
	IndexedFields() []string
	// IndexValuesOf decodes an encoded entity and extracts its indexed field values.
	IndexValuesOf(data []byte) (map[string]string, error)
}

// Schema describes one entity type: its name, how it is encoded, and which fields are indexed.
type Schema[T Entity] struct {
	name    string
	indexes []IndexedField[T]
}

func NewSchema[T Entity](name string, indexes ...IndexedField[T]) *Schema[T] {
	return &Schema[T]{
		name:    name,
		indexes: indexes,
	}
}

func (s *Schema[T]) EntityType() string {
	return s.name
}

func (s *Schema[T]) IndexedFields() []string {
	fields := make([]string, 0, len(s.indexes))
	for _, idx := range s.indexes {
		fields = append(fields, idx.Name)
	}
	return fields
}

func (s *Schema[T]) HasIndex(field string) bool {
	for _, idx := range s.indexes {
		if idx.Name == field {
			return true
		}
	}
	return false
}

func (s *Schema[T]) Encode(entity T) ([]byte, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", s.name, entity.GetId(), err)
	}
	return data, nil
}

func (s *Schema[T]) Decode(data []byte) (T, error) {
	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return entity, fmt.Errorf("failed to decode %s: %w", s.name, err)
	}
	return entity, nil
}

func (s *Schema[T]) indexValues(entity T) map[string]string {
	values := make(map[string]string, len(s.indexes))
	for _, idx := range s.indexes {
		values[idx.Name] = idx.Value(entity)
	}
	return values
}

func (s *Schema[T]) IndexValuesOf(data []byte) (map[string]string, error) {
	entity, err := s.Decode(data)
	if err != nil {
		return nil, err
	}
	return s.indexValues(entity), nil
}

// NewSetChange encodes entity into a change that upserts it.
func (s *Schema[T]) NewSetChange(entity T) (*Change, error) {
	if entity.GetId() == "" {
		return nil, fmt.Errorf("%w: %s entity has an empty id", ErrInvalidChange, s.name)
	}
	data, err := s.Encode(entity)
	if err != nil {
		return nil, err
	}
	return &Change{
		EntityType:  s.name,
		Id:          entity.GetId(),
		Data:        data,
		IndexValues: s.indexValues(entity),
	}, nil
}

// NewDeleteChange returns a change that removes id.
func (s *Schema[T]) NewDeleteChange(id string) (*Change, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %s delete with an empty id", ErrInvalidChange, s.name)
	}
	return &Change{
		EntityType: s.name,
		Id:         id,
		Deleted:    true,
	}, nil
}
