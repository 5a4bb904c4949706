package poolManager

import (
	"fmt"
	"time"

	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/shopspring/decimal"
)

// Swap is one PoolManager Swap event.
type Swap struct {
	Id          string    `json:"id"`
	ChainId     uint64    `json:"chainId"`
	BlockNumber uint64    `json:"blockNumber"`
	BlockTime   time.Time `json:"blockTime"`
	TxHash      string    `json:"txHash"`
	LogIndex    uint64    `json:"logIndex"`

	PoolId string `json:"poolId"`
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`

	Amount0      decimal.Decimal `json:"amount0"`
	Amount1      decimal.Decimal `json:"amount1"`
	SqrtPriceX96 decimal.Decimal `json:"sqrtPriceX96"`
	Tick         int64           `json:"tick"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	Fee          uint32          `json:"fee"`

	// Amounts scaled by token decimals. Zero when metadata could not be fetched.
	Amount0Adjusted decimal.Decimal `json:"amount0Adjusted"`
	Amount1Adjusted decimal.Decimal `json:"amount1Adjusted"`

	Sender string `json:"sender"`
	Origin string `json:"origin"`
}

func (s *Swap) GetId() string {
	return s.Id
}

// Pool aggregates the swaps of a single v4 pool id on one chain.
type Pool struct {
	// ${chainId}_${poolId}
	Id          string `json:"id"`
	ChainId     uint64 `json:"chainId"`
	PoolId      string `json:"poolId"`
	Currency0   string `json:"currency0"`
	Currency1   string `json:"currency1"`
	Fee         uint32 `json:"fee"`
	TickSpacing int64  `json:"tickSpacing"`
	Hooks       string `json:"hooks"`

	SqrtPriceX96 decimal.Decimal `json:"sqrtPriceX96"`
	Tick         int64           `json:"tick"`
	Liquidity    decimal.Decimal `json:"liquidity"`

	SwapCount    uint64          `json:"swapCount"`
	VolumeToken0 decimal.Decimal `json:"volumeToken0"`
	VolumeToken1 decimal.Decimal `json:"volumeToken1"`

	CreatedAtBlock uint64 `json:"createdAtBlock"`
	LastSwapBlock  uint64 `json:"lastSwapBlock"`
}

func (p *Pool) GetId() string {
	return p.Id
}

// PoolEntityId scopes a v4 pool id to its chain. The same id can exist on several chains.
func PoolEntityId(chainId uint64, poolId string) string {
	return fmt.Sprintf("%d_%s", chainId, poolId)
}

var SwapSchema = entityStore.NewSchema[*Swap]("Swap",
	entityStore.IndexedField[*Swap]{Name: "poolId", Value: func(s *Swap) string { return s.PoolId }},
	entityStore.IndexedField[*Swap]{Name: "sender", Value: func(s *Swap) string { return s.Sender }},
)

var PoolSchema = entityStore.NewSchema[*Pool]("Pool",
	entityStore.IndexedField[*Pool]{Name: "currency0", Value: func(p *Pool) string { return p.Currency0 }},
)
