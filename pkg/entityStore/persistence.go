package entityStore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/Layr-Labs/unichain-indexer/pkg/events"
)

// PersistedVersion is one committed entity version as stored by a Persistence.
type PersistedVersion struct {
	Seq         uint64
	EntityType  string
	EntityId    string
	Coordinates events.Coordinates
	Deleted     bool
	Data        []byte
}

// CommitRecord is everything written for one committed event.
type CommitRecord struct {
	Coordinates events.Coordinates
	ChangeRoot  string
	Versions    []*PersistedVersion
}

// PruneRecord lists versions that can no longer become current again.
type PruneRecord struct {
	ChainId    uint64
	BelowBlock uint64
	// Newest event made final. Rollbacks must not reach it.
	Floor events.Coordinates
	Seqs  []uint64
}

type History struct {
	// Ordered by Seq ascending
	Versions []*PersistedVersion
	// Last committed event per chain
	Checkpoints map[uint64]events.Coordinates
	// Newest pruned event per chain
	Floors map[uint64]events.Coordinates
}

// Persistence is the durable storage behind an EntityStore. A commit is only applied in
// memory after PersistChangeSet returns nil.
type Persistence interface {
	PersistChangeSet(ctx context.Context, record *CommitRecord) error
	// RevertEvents removes everything written by events of chainId at or above fromBlock.
	RevertEvents(ctx context.Context, chainId uint64, fromBlock uint64) error
	LoadHistory(ctx context.Context) (*History, error)
	PruneHistory(ctx context.Context, record *PruneRecord) error
}

// MemoryPersistence is a Persistence that keeps history in process.
type MemoryPersistence struct {
	mu          sync.Mutex
	versions    []*PersistedVersion
	checkpoints map[uint64][]events.Coordinates
	floors      map[uint64]events.Coordinates

	// FailNext makes the next PersistChangeSet return this error once.
	FailNext error
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		versions:    make([]*PersistedVersion, 0),
		checkpoints: make(map[uint64][]events.Coordinates),
		floors:      make(map[uint64]events.Coordinates),
	}
}

func (m *MemoryPersistence) PersistChangeSet(ctx context.Context, record *CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	for _, v := range record.Versions {
		copied := *v
		m.versions = append(m.versions, &copied)
	}
	chainId := record.Coordinates.ChainId
	m.checkpoints[chainId] = append(m.checkpoints[chainId], record.Coordinates)
	return nil
}

func (m *MemoryPersistence) RevertEvents(ctx context.Context, chainId uint64, fromBlock uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = slices.DeleteFunc(m.versions, func(v *PersistedVersion) bool {
		return v.Coordinates.ChainId == chainId && v.Coordinates.BlockNumber >= fromBlock
	})
	m.checkpoints[chainId] = slices.DeleteFunc(m.checkpoints[chainId], func(c events.Coordinates) bool {
		return c.BlockNumber >= fromBlock
	})
	return nil
}

func (m *MemoryPersistence) LoadHistory(ctx context.Context) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := &History{
		Versions:    make([]*PersistedVersion, 0, len(m.versions)),
		Checkpoints: make(map[uint64]events.Coordinates),
		Floors:      make(map[uint64]events.Coordinates, len(m.floors)),
	}
	for chainId, floor := range m.floors {
		history.Floors[chainId] = floor
	}
	for _, v := range m.versions {
		copied := *v
		history.Versions = append(history.Versions, &copied)
	}
	slices.SortFunc(history.Versions, func(a, b *PersistedVersion) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	for chainId, coords := range m.checkpoints {
		if len(coords) > 0 {
			history.Checkpoints[chainId] = coords[len(coords)-1]
		}
	}
	return history, nil
}

func (m *MemoryPersistence) PruneHistory(ctx context.Context, record *PruneRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[uint64]struct{}, len(record.Seqs))
	for _, seq := range record.Seqs {
		drop[seq] = struct{}{}
	}
	m.versions = slices.DeleteFunc(m.versions, func(v *PersistedVersion) bool {
		_, ok := drop[v.Seq]
		return ok
	})
	m.floors[record.ChainId] = record.Floor
	coords := m.checkpoints[record.ChainId]
	if len(coords) > 1 {
		last := coords[len(coords)-1]
		m.checkpoints[record.ChainId] = slices.DeleteFunc(coords, func(c events.Coordinates) bool {
			return c.BlockNumber < record.BelowBlock && c != last
		})
	}
	return nil
}

func (m *MemoryPersistence) VersionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.versions)
}
