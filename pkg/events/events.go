// Package events holds the decoded on-chain events consumed by the pipeline and the
// total order (chain id, block number, log index) the rest of the indexer relies on.
package events

import (
	"cmp"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Coordinates struct {
	ChainId     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint64 `json:"logIndex"`
}

// Compare orders coordinates by chain id, then block number, then log index.
func (c Coordinates) Compare(o Coordinates) int {
	if r := cmp.Compare(c.ChainId, o.ChainId); r != 0 {
		return r
	}
	if r := cmp.Compare(c.BlockNumber, o.BlockNumber); r != 0 {
		return r
	}
	return cmp.Compare(c.LogIndex, o.LogIndex)
}

func (c Coordinates) Less(o Coordinates) bool {
	return c.Compare(o) < 0
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%d_%d_%d", c.ChainId, c.BlockNumber, c.LogIndex)
}

// ZapFields returns the fields needed to reproduce a failure for this event.
func (c Coordinates) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Uint64("chainId", c.ChainId),
		zap.Uint64("blockNumber", c.BlockNumber),
		zap.Uint64("logIndex", c.LogIndex),
	}
}

type Event struct {
	Coordinates
	BlockTimestamp  uint64          `json:"blockTimestamp"`
	BlockHash       common.Hash     `json:"blockHash"`
	TransactionHash common.Hash     `json:"transactionHash"`
	TransactionFrom common.Address  `json:"transactionFrom"`
	SrcAddress      common.Address  `json:"srcAddress"`
	ContractName    string          `json:"contractName"`
	EventName       string          `json:"eventName"`
	Params          json.RawMessage `json:"params"`
}

func (e *Event) BlockTime() time.Time {
	return time.Unix(int64(e.BlockTimestamp), 0).UTC()
}

// DecodeParams unmarshals the typed parameter payload of the event into v.
func (e *Event) DecodeParams(v any) error {
	if len(e.Params) == 0 {
		return fmt.Errorf("event %s/%s at %s has no params", e.ContractName, e.EventName, e.Coordinates)
	}
	return json.Unmarshal(e.Params, v)
}

// Reorg invalidates every block of ChainId in [FromBlock, ToBlock]. A ToBlock of 0 means open ended.
type Reorg struct {
	ChainId   uint64 `json:"chainId"`
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

func (r *Reorg) Contains(c Coordinates) bool {
	if c.ChainId != r.ChainId || c.BlockNumber < r.FromBlock {
		return false
	}
	return r.ToBlock == 0 || c.BlockNumber <= r.ToBlock
}

func (r *Reorg) Validate() error {
	if r.ToBlock != 0 && r.ToBlock < r.FromBlock {
		return fmt.Errorf("invalid reorg range [%d, %d] for chain %d", r.FromBlock, r.ToBlock, r.ChainId)
	}
	return nil
}

// FeedItem carries exactly one of Event or Reorg.
type FeedItem struct {
	Event *Event `json:"event,omitempty"`
	Reorg *Reorg `json:"reorg,omitempty"`
}

func (f *FeedItem) Validate() error {
	if (f.Event == nil) == (f.Reorg == nil) {
		return fmt.Errorf("feed item must carry exactly one of event or reorg")
	}
	if f.Reorg != nil {
		return f.Reorg.Validate()
	}
	return nil
}
