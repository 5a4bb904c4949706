package poolManager

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	ContractName = "PoolManager"

	EventName_Swap            = "Swap"
	EventName_Initialize      = "Initialize"
	EventName_ModifyLiquidity = "ModifyLiquidity"
)

type SwapParams struct {
	Id           common.Hash     `json:"id"`
	Sender       common.Address  `json:"sender"`
	Amount0      decimal.Decimal `json:"amount0"`
	Amount1      decimal.Decimal `json:"amount1"`
	SqrtPriceX96 decimal.Decimal `json:"sqrtPriceX96"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	Tick         int64           `json:"tick"`
	Fee          uint32          `json:"fee"`
}

type InitializeParams struct {
	Id           common.Hash     `json:"id"`
	Currency0    common.Address  `json:"currency0"`
	Currency1    common.Address  `json:"currency1"`
	Fee          uint32          `json:"fee"`
	TickSpacing  int64           `json:"tickSpacing"`
	Hooks        common.Address  `json:"hooks"`
	SqrtPriceX96 decimal.Decimal `json:"sqrtPriceX96"`
	Tick         int64           `json:"tick"`
}

type ModifyLiquidityParams struct {
	Id             common.Hash     `json:"id"`
	Sender         common.Address  `json:"sender"`
	TickLower      int64           `json:"tickLower"`
	TickUpper      int64           `json:"tickUpper"`
	LiquidityDelta decimal.Decimal `json:"liquidityDelta"`
	Salt           common.Hash     `json:"salt"`
}
