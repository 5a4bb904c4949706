package entityStore

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/utils"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/wealdtech/go-merkletree/v2"
	"github.com/wealdtech/go-merkletree/v2/keccak256"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	merkleLeafPrefix_Event  = []byte{0x01}
	merkleLeafPrefix_Change = []byte{0x02}
)

// Change is one staged mutation. Deleted changes carry no data.
type Change struct {
	EntityType  string
	Id          string
	Data        []byte
	IndexValues map[string]string
	Deleted     bool
}

func (c *Change) slotId() string {
	return c.EntityType + ":" + c.Id
}

type changeKey struct {
	entityType string
	id         string
}

// ChangeSet holds the uncommitted mutations of a single event. Staging order is preserved;
// a later change for the same entity replaces the earlier one in place.
type ChangeSet struct {
	coordinates events.Coordinates

	mu      sync.Mutex
	changes *orderedmap.OrderedMap[changeKey, *Change]
	sealed  bool
}

func NewChangeSet(coordinates events.Coordinates) *ChangeSet {
	return &ChangeSet{
		coordinates: coordinates,
		changes:     orderedmap.New[changeKey, *Change](),
	}
}

func (cs *ChangeSet) Coordinates() events.Coordinates {
	return cs.coordinates
}

func (cs *ChangeSet) Stage(change *Change) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.sealed {
		return ErrChangeSetSealed
	}
	cs.changes.Set(changeKey{entityType: change.EntityType, id: change.Id}, change)
	return nil
}

func (cs *ChangeSet) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.changes.Len()
}

// Changes returns the staged changes in staging order.
func (cs *ChangeSet) Changes() []*Change {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	changes := make([]*Change, 0, cs.changes.Len())
	for pair := cs.changes.Oldest(); pair != nil; pair = pair.Next() {
		changes = append(changes, pair.Value)
	}
	return changes
}

// Seal prevents any further staging. Sealing twice is a no-op.
func (cs *ChangeSet) Seal() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.sealed = true
}

func (cs *ChangeSet) IsSealed() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sealed
}

// Discard drops every staged change and seals the set.
func (cs *ChangeSet) Discard() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.changes = orderedmap.New[changeKey, *Change]()
	cs.sealed = true
}

// Root is the keccak256 merkle root of the event coordinates and its changes sorted by slot.
func (cs *ChangeSet) Root() (string, error) {
	changes := cs.Changes()
	slices.SortFunc(changes, func(a, b *Change) int {
		if a.slotId() < b.slotId() {
			return -1
		}
		if a.slotId() > b.slotId() {
			return 1
		}
		return 0
	})

	eventLeaf := append([]byte{}, merkleLeafPrefix_Event...)
	eventLeaf = binary.BigEndian.AppendUint64(eventLeaf, cs.coordinates.ChainId)
	eventLeaf = binary.BigEndian.AppendUint64(eventLeaf, cs.coordinates.BlockNumber)
	eventLeaf = binary.BigEndian.AppendUint64(eventLeaf, cs.coordinates.LogIndex)

	leaves := [][]byte{eventLeaf}
	for _, c := range changes {
		leaves = append(leaves, encodeChangeLeaf(c))
	}

	tree, err := merkletree.NewTree(
		merkletree.WithData(leaves),
		merkletree.WithHashType(keccak256.New()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to merkleize change set: %w", err)
	}
	return utils.ConvertBytesToString(tree.Root()), nil
}

func encodeChangeLeaf(c *Change) []byte {
	leaf := append([]byte{}, merkleLeafPrefix_Change...)
	leaf = append(leaf, []byte(c.slotId())...)
	if c.Deleted {
		return append(leaf, 0x00)
	}
	return append(append(leaf, 0x01), crypto.Keccak256(c.Data)...)
}
