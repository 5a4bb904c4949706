// Package entityStore is a versioned, in-memory entity store with secondary indexes.
//
// Every committed change pushes a new immutable version onto the entity's version stack, and
// every committed event is journaled per chain so that it can be rolled back on a reorg.
// Reads only ever observe committed state.
package entityStore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrUnknownIndex      = errors.New("field is not indexed")
	ErrInvalidChange     = errors.New("invalid change")
	ErrChangeSetSealed   = errors.New("change set is sealed")
	ErrOutOfOrder        = errors.New("event committed out of order")
	ErrHistoryPruned     = errors.New("rollback reaches into pruned history")
)

// PersistenceError is returned when the persistence collaborator rejects a write.
// Nothing is applied in memory when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type entityVersion struct {
	seq         uint64
	coordinates events.Coordinates
	data        []byte
	indexValues map[string]string
	deleted     bool
	// set once the writing event is older than the reorg window
	final bool
}

type table struct {
	descriptor TypeDescriptor
	indexed    map[string]struct{}
	versions   map[string][]*entityVersion
	// field -> value -> ids
	indexes map[string]map[string]map[string]struct{}
}

func newTable(d TypeDescriptor) *table {
	t := &table{
		descriptor: d,
		indexed:    make(map[string]struct{}),
		versions:   make(map[string][]*entityVersion),
		indexes:    make(map[string]map[string]map[string]struct{}),
	}
	for _, f := range d.IndexedFields() {
		t.indexed[f] = struct{}{}
		t.indexes[f] = make(map[string]map[string]struct{})
	}
	return t
}

func (t *table) current(id string) *entityVersion {
	stack := t.versions[id]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (t *table) live(id string) *entityVersion {
	v := t.current(id)
	if v == nil || v.deleted {
		return nil
	}
	return v
}

func (t *table) index(id string, v *entityVersion) {
	if v == nil || v.deleted {
		return
	}
	for field, value := range v.indexValues {
		buckets, ok := t.indexes[field]
		if !ok {
			continue
		}
		bucket, ok := buckets[value]
		if !ok {
			bucket = make(map[string]struct{})
			buckets[value] = bucket
		}
		bucket[id] = struct{}{}
	}
}

func (t *table) unindex(id string, v *entityVersion) {
	if v == nil || v.deleted {
		return
	}
	for field, value := range v.indexValues {
		buckets, ok := t.indexes[field]
		if !ok {
			continue
		}
		if bucket, ok := buckets[value]; ok {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(buckets, value)
			}
		}
	}
}

func (t *table) push(id string, v *entityVersion) {
	t.unindex(id, t.current(id))
	t.versions[id] = append(t.versions[id], v)
	t.index(id, v)
}

// remove drops the version with seq from id's stack, re-indexing if it was current.
func (t *table) remove(id string, seq uint64) {
	stack := t.versions[id]
	i := slices.IndexFunc(stack, func(v *entityVersion) bool { return v.seq == seq })
	if i < 0 {
		return
	}
	if i == len(stack)-1 {
		t.unindex(id, stack[i])
		stack = stack[:i]
		if len(stack) > 0 {
			t.index(id, stack[len(stack)-1])
		}
	} else {
		stack = slices.Delete(stack, i, i+1)
	}
	if len(stack) == 0 {
		delete(t.versions, id)
		return
	}
	t.versions[id] = stack
}

type versionRef struct {
	entityType string
	id         string
	seq        uint64
}

type journalEntry struct {
	coordinates events.Coordinates
	refs        []versionRef
}

type EntityStore struct {
	logger      *zap.Logger
	persistence Persistence

	// serializes commit, rollback and prune, including their persistence round trip
	writeLock sync.Mutex

	lock          sync.RWMutex
	tables        map[string]*table
	journals      map[uint64][]*journalEntry
	lastCommitted map[uint64]events.Coordinates
	// newest pruned event per chain
	floors  map[uint64]events.Coordinates
	nextSeq uint64
}

// NewEntityStore creates an empty store. persistence may be nil for a purely in-memory store.
func NewEntityStore(persistence Persistence, l *zap.Logger) *EntityStore {
	return &EntityStore{
		logger:        l,
		persistence:   persistence,
		tables:        make(map[string]*table),
		journals:      make(map[uint64][]*journalEntry),
		lastCommitted: make(map[uint64]events.Coordinates),
		floors:        make(map[uint64]events.Coordinates),
		nextSeq:       1,
	}
}

func (s *EntityStore) Register(descriptors ...TypeDescriptor) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, d := range descriptors {
		if _, ok := s.tables[d.EntityType()]; ok {
			return xerrors.Errorf("entity type %s is already registered", d.EntityType())
		}
		s.tables[d.EntityType()] = newTable(d)
	}
	return nil
}

func (s *EntityStore) table(entityType string) (*table, error) {
	t, ok := s.tables[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return t, nil
}

// Get returns the encoded latest committed value of id, or false if it does not exist.
func (s *EntityStore) Get(entityType string, id string) ([]byte, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, err := s.table(entityType)
	if err != nil {
		return nil, false, err
	}
	v := t.live(id)
	if v == nil {
		return nil, false, nil
	}
	return bytes.Clone(v.data), true, nil
}

// GetWhere returns the encoded committed entities whose field equals value, ordered by id.
func (s *EntityStore) GetWhere(entityType string, field string, value string) ([][]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, err := s.table(entityType)
	if err != nil {
		return nil, err
	}
	if _, ok := t.indexed[field]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, entityType, field)
	}
	bucket := t.indexes[field][value]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([][]byte, 0, len(ids))
	for _, id := range ids {
		if v := t.live(id); v != nil {
			results = append(results, bytes.Clone(v.data))
		}
	}
	return results, nil
}

// Count returns the number of live entities of a type.
func (s *EntityStore) Count(entityType string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, ok := s.tables[entityType]
	if !ok {
		return 0
	}
	count := 0
	for id := range t.versions {
		if t.live(id) != nil {
			count++
		}
	}
	return count
}

// LastCommitted returns the coordinates of the newest committed event of a chain.
func (s *EntityStore) LastCommitted(chainId uint64) (events.Coordinates, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	c, ok := s.lastCommitted[chainId]
	return c, ok
}

func (s *EntityStore) validate(cs *ChangeSet, changes []*Change) error {
	coords := cs.Coordinates()
	if last, ok := s.lastCommitted[coords.ChainId]; ok && !last.Less(coords) {
		return fmt.Errorf("%w: %s is not after %s", ErrOutOfOrder, coords, last)
	}
	for _, c := range changes {
		t, err := s.table(c.EntityType)
		if err != nil {
			return err
		}
		if c.Id == "" {
			return fmt.Errorf("%w: empty id for %s", ErrInvalidChange, c.EntityType)
		}
		if c.Deleted {
			continue
		}
		for field := range t.indexed {
			if _, ok := c.IndexValues[field]; !ok {
				return fmt.Errorf("%w: %s %s is missing indexed field %s", ErrInvalidChange, c.EntityType, c.Id, field)
			}
		}
	}
	return nil
}

// Commit seals cs and applies it atomically. The change set is persisted first; if validation
// or persistence fails nothing is applied.
func (s *EntityStore) Commit(ctx context.Context, cs *ChangeSet) (*CommitRecord, error) {
	if cs == nil {
		return nil, fmt.Errorf("%w: nil change set", ErrInvalidChange)
	}
	cs.Seal()
	changes := cs.Changes()
	coords := cs.Coordinates()

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.lock.RLock()
	err := s.validate(cs, changes)
	seq := s.nextSeq
	s.lock.RUnlock()
	if err != nil {
		return nil, err
	}

	root, err := cs.Root()
	if err != nil {
		return nil, err
	}
	record := &CommitRecord{
		Coordinates: coords,
		ChangeRoot:  root,
		Versions:    make([]*PersistedVersion, 0, len(changes)),
	}
	for i, c := range changes {
		record.Versions = append(record.Versions, &PersistedVersion{
			Seq:         seq + uint64(i),
			EntityType:  c.EntityType,
			EntityId:    c.Id,
			Coordinates: coords,
			Deleted:     c.Deleted,
			Data:        c.Data,
		})
	}

	if s.persistence != nil {
		if err := s.persistence.PersistChangeSet(ctx, record); err != nil {
			s.logger.Error("Failed to persist change set",
				append(coords.ZapFields(), zap.Error(err))...,
			)
			return nil, &PersistenceError{Op: "persist", Err: err}
		}
	}

	s.lock.Lock()
	entry := &journalEntry{coordinates: coords, refs: make([]versionRef, 0, len(changes))}
	for i, c := range changes {
		v := &entityVersion{
			seq:         seq + uint64(i),
			coordinates: coords,
			data:        c.Data,
			indexValues: c.IndexValues,
			deleted:     c.Deleted,
		}
		s.tables[c.EntityType].push(c.Id, v)
		entry.refs = append(entry.refs, versionRef{entityType: c.EntityType, id: c.Id, seq: v.seq})
	}
	s.journals[coords.ChainId] = append(s.journals[coords.ChainId], entry)
	s.lastCommitted[coords.ChainId] = coords
	s.nextSeq = seq + uint64(len(changes))
	s.lock.Unlock()

	s.logger.Debug("Committed change set",
		append(coords.ZapFields(), zap.Int("changes", len(changes)), zap.String("changeRoot", root))...,
	)
	return record, nil
}

// RollbackFrom reverts every committed event of chainId at or above fromBlock, newest first,
// and returns the coordinates of the reverted events in the order they were reverted.
func (s *EntityStore) RollbackFrom(ctx context.Context, chainId uint64, fromBlock uint64) ([]events.Coordinates, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.lock.RLock()
	journal := s.journals[chainId]
	floor, hasFloor := s.floors[chainId]
	s.lock.RUnlock()

	if hasFloor && fromBlock <= floor.BlockNumber {
		return nil, fmt.Errorf("%w: chain %d block %d, oldest revertible block is above %d", ErrHistoryPruned, chainId, fromBlock, floor.BlockNumber)
	}

	start := sort.Search(len(journal), func(i int) bool {
		return journal[i].coordinates.BlockNumber >= fromBlock
	})
	reverted := make([]events.Coordinates, 0, len(journal)-start)
	if start == len(journal) {
		return reverted, nil
	}

	if s.persistence != nil {
		if err := s.persistence.RevertEvents(ctx, chainId, fromBlock); err != nil {
			s.logger.Sugar().Errorw("Failed to revert persisted events",
				zap.Uint64("chainId", chainId),
				zap.Uint64("fromBlock", fromBlock),
				zap.Error(err),
			)
			return nil, &PersistenceError{Op: "revert", Err: err}
		}
	}

	s.lock.Lock()
	for i := len(journal) - 1; i >= start; i-- {
		entry := journal[i]
		for j := len(entry.refs) - 1; j >= 0; j-- {
			ref := entry.refs[j]
			s.tables[ref.entityType].remove(ref.id, ref.seq)
		}
		reverted = append(reverted, entry.coordinates)
	}
	s.journals[chainId] = slices.Clone(journal[:start])
	if start > 0 {
		s.lastCommitted[chainId] = journal[start-1].coordinates
	} else if hasFloor {
		s.lastCommitted[chainId] = floor
	} else {
		delete(s.lastCommitted, chainId)
	}
	s.lock.Unlock()

	s.logger.Sugar().Infow("Rolled back committed events",
		zap.Uint64("chainId", chainId),
		zap.Uint64("fromBlock", fromBlock),
		zap.Int("events", len(reverted)),
	)
	return reverted, nil
}

// Prune marks events of chainId below belowBlock as final and drops entity versions that can
// no longer become current. The newest version of every entity is always kept.
func (s *EntityStore) Prune(ctx context.Context, chainId uint64, belowBlock uint64) (int, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.lock.RLock()
	journal := s.journals[chainId]
	end := sort.Search(len(journal), func(i int) bool {
		return journal[i].coordinates.BlockNumber >= belowBlock
	})
	if end == 0 {
		s.lock.RUnlock()
		return 0, nil
	}

	finalSeqs := make(map[uint64]struct{})
	touched := make(map[versionRef]struct{})
	for _, entry := range journal[:end] {
		for _, ref := range entry.refs {
			finalSeqs[ref.seq] = struct{}{}
			touched[versionRef{entityType: ref.entityType, id: ref.id}] = struct{}{}
		}
	}
	drops := make([]versionRef, 0)
	for key := range touched {
		stack := s.tables[key.entityType].versions[key.id]
		top := -1
		for i := len(stack) - 1; i >= 0; i-- {
			if _, ok := finalSeqs[stack[i].seq]; ok || stack[i].final {
				top = i
				break
			}
		}
		if top < 0 {
			continue
		}
		for _, v := range stack[:top] {
			drops = append(drops, versionRef{entityType: key.entityType, id: key.id, seq: v.seq})
		}
		// a final tombstone with nothing above it is no longer needed
		if top == len(stack)-1 && stack[top].deleted {
			drops = append(drops, versionRef{entityType: key.entityType, id: key.id, seq: stack[top].seq})
		}
	}
	s.lock.RUnlock()

	seqs := make([]uint64, 0, len(drops))
	for _, d := range drops {
		seqs = append(seqs, d.seq)
	}
	slices.Sort(seqs)
	floor := journal[end-1].coordinates

	if s.persistence != nil {
		record := &PruneRecord{ChainId: chainId, BelowBlock: belowBlock, Floor: floor, Seqs: seqs}
		if err := s.persistence.PruneHistory(ctx, record); err != nil {
			return 0, &PersistenceError{Op: "prune", Err: err}
		}
	}

	s.lock.Lock()
	for key := range touched {
		for _, v := range s.tables[key.entityType].versions[key.id] {
			if _, ok := finalSeqs[v.seq]; ok {
				v.final = true
			}
		}
	}
	for _, d := range drops {
		s.tables[d.entityType].remove(d.id, d.seq)
	}
	s.floors[chainId] = floor
	s.journals[chainId] = slices.Clone(journal[end:])
	s.lock.Unlock()

	s.logger.Sugar().Debugw("Pruned entity history",
		zap.Uint64("chainId", chainId),
		zap.Uint64("belowBlock", belowBlock),
		zap.Int("events", end),
		zap.Int("versions", len(seqs)),
	)
	return len(seqs), nil
}

// LoadFromHistory rebuilds the store from persisted versions. It must be called on an empty
// store after every entity type has been registered.
func (s *EntityStore) LoadFromHistory(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	history, err := s.persistence.LoadHistory(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, pv := range history.Versions {
		t, err := s.table(pv.EntityType)
		if err != nil {
			return err
		}
		v := &entityVersion{
			seq:         pv.Seq,
			coordinates: pv.Coordinates,
			data:        pv.Data,
			deleted:     pv.Deleted,
		}
		if !pv.Deleted {
			if v.indexValues, err = t.descriptor.IndexValuesOf(pv.Data); err != nil {
				return xerrors.Errorf("failed to index %s %s: %w", pv.EntityType, pv.EntityId, err)
			}
		}
		t.push(pv.EntityId, v)

		chainId := pv.Coordinates.ChainId
		if pv.Seq >= s.nextSeq {
			s.nextSeq = pv.Seq + 1
		}
		if c, ok := s.lastCommitted[chainId]; !ok || c.Less(pv.Coordinates) {
			s.lastCommitted[chainId] = pv.Coordinates
		}
		// versions at or below the prune floor are final and never journaled
		if floor, ok := history.Floors[chainId]; ok && pv.Coordinates.Compare(floor) <= 0 {
			v.final = true
			continue
		}

		journal := s.journals[chainId]
		if len(journal) == 0 || journal[len(journal)-1].coordinates != pv.Coordinates {
			journal = append(journal, &journalEntry{coordinates: pv.Coordinates})
		}
		last := journal[len(journal)-1]
		last.refs = append(last.refs, versionRef{entityType: pv.EntityType, id: pv.EntityId, seq: pv.Seq})
		s.journals[chainId] = journal
	}
	for chainId, floor := range history.Floors {
		s.floors[chainId] = floor
		if last, ok := s.lastCommitted[chainId]; !ok || last.Less(floor) {
			s.lastCommitted[chainId] = floor
		}
	}
	for chainId, c := range history.Checkpoints {
		if last, ok := s.lastCommitted[chainId]; !ok || last.Less(c) {
			s.lastCommitted[chainId] = c
		}
	}

	s.logger.Sugar().Infow("Loaded entity store from history", zap.Int("versions", len(history.Versions)))
	return nil
}
