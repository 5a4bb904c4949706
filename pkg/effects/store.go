package effects

import (
	"context"
	"sync"
	"time"
)

// Record is a resolved effect call as persisted by an EffectStore.
type Record struct {
	EffectId  string
	InputHash string
	Input     string
	Output    []byte
	CreatedAt time.Time
}

// EffectStore persists resolved effect results so they survive restarts.
type EffectStore interface {
	Load(ctx context.Context) ([]*Record, error)
	Save(ctx context.Context, records []*Record) error
	Close() error
}

// MemoryEffectStore keeps records in process. Useful for tests and for running without persistence.
type MemoryEffectStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryEffectStore() *MemoryEffectStore {
	return &MemoryEffectStore{
		records: make(map[string]*Record),
	}
}

func (m *MemoryEffectStore) Load(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		copied := *r
		records = append(records, &copied)
	}
	return records, nil
}

func (m *MemoryEffectStore) Save(ctx context.Context, records []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		copied := *r
		m.records[r.InputHash] = &copied
	}
	return nil
}

func (m *MemoryEffectStore) Close() error {
	return nil
}

func (m *MemoryEffectStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
