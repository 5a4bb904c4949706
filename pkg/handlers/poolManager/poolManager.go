// Package poolManager indexes Uniswap v4 PoolManager events into Swap and Pool entities.
package poolManager

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects/rpcEffects"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/Layr-Labs/unichain-indexer/pkg/executionContext"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers"
	"github.com/Layr-Labs/unichain-indexer/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TokenMetadataEffect = effects.Effect[rpcEffects.TokenMetadataInput, rpcEffects.TokenMetadata]

type PoolManagerHandlers struct {
	logger        *zap.Logger
	tokenMetadata *TokenMetadataEffect
	// empty means every pool is indexed
	targetPools   map[string]struct{}
	defaultToken0 string
	defaultToken1 string
}

// NewPoolManagerHandlers builds the handlers. tokenMetadata may be nil, in which case swap
// amounts are not scaled by token decimals.
func NewPoolManagerHandlers(cfg *config.Config, tokenMetadata *TokenMetadataEffect, l *zap.Logger) *PoolManagerHandlers {
	targets := make(map[string]struct{})
	for _, p := range cfg.GetTargetPools() {
		targets[p] = struct{}{}
	}
	return &PoolManagerHandlers{
		logger:        l,
		tokenMetadata: tokenMetadata,
		targetPools:   targets,
		defaultToken0: strings.ToLower(cfg.PoolConfig.Token0),
		defaultToken1: strings.ToLower(cfg.PoolConfig.Token1),
	}
}

// Register adds the PoolManager handlers and the entity types they write to registry.
func (h *PoolManagerHandlers) Register(registry *handlers.Registry) error {
	registry.RegisterSchemas(SwapSchema, PoolSchema)
	return registry.Register(
		&handlers.Registration{
			ContractName: ContractName,
			EventName:    EventName_Swap,
			Loader:       h.loadSwap,
			Handler:      h.handleSwap,
		},
		&handlers.Registration{
			ContractName: ContractName,
			EventName:    EventName_Initialize,
			Handler:      h.handleInitialize,
		},
		&handlers.Registration{
			ContractName: ContractName,
			EventName:    EventName_ModifyLiquidity,
			Handler:      h.handleModifyLiquidity,
		},
	)
}

func (h *PoolManagerHandlers) isTarget(poolId string) bool {
	if len(h.targetPools) == 0 {
		return true
	}
	_, ok := h.targetPools[poolId]
	return ok
}

type swapLoad struct {
	params    *SwapParams
	token0    string
	token1    string
	decimals0 *uint8
	decimals1 *uint8
}

func (h *PoolManagerHandlers) loadSwap(ctx context.Context, lc executionContext.LoaderContext, event *events.Event) (any, error) {
	params := &SwapParams{}
	if err := event.DecodeParams(params); err != nil {
		return nil, err
	}
	poolId := utils.LowerHex(params.Id)
	if !h.isTarget(poolId) {
		return nil, nil
	}

	loaded := &swapLoad{params: params, token0: h.defaultToken0, token1: h.defaultToken1}
	pool, found, err := executionContext.Reader(lc, PoolSchema).Get(PoolEntityId(event.ChainId, poolId))
	if err != nil {
		return nil, err
	}
	if found {
		loaded.token0 = pool.Currency0
		loaded.token1 = pool.Currency1
	}

	loaded.decimals0 = h.fetchDecimals(ctx, lc, event.ChainId, loaded.token0)
	loaded.decimals1 = h.fetchDecimals(ctx, lc, event.ChainId, loaded.token1)
	return loaded, nil
}

// fetchDecimals returns nil when the metadata effect failed or is not configured. A failure is
// cached by the effect cache, so the token is not retried for later swaps.
func (h *PoolManagerHandlers) fetchDecimals(ctx context.Context, lc executionContext.LoaderContext, chainId uint64, token string) *uint8 {
	if h.tokenMetadata == nil {
		return nil
	}
	meta, err := h.tokenMetadata.Call(ctx, lc, rpcEffects.NormalizeTokenInput(chainId, token))
	if err != nil {
		lc.Log().Sugar().Warnw("Failed to load token metadata", zap.String("token", token), zap.Error(err))
		return nil
	}
	return &meta.Decimals
}

func (h *PoolManagerHandlers) handleSwap(ctx context.Context, hc executionContext.HandlerContext, event *events.Event, loaded any) error {
	if loaded == nil {
		return nil
	}
	load, ok := loaded.(*swapLoad)
	if !ok {
		return fmt.Errorf("unexpected swap loader result %T", loaded)
	}
	params := load.params
	poolId := utils.LowerHex(params.Id)

	// the pool may have been initialized after the loader ran; its currencies win
	pools := executionContext.Writer(hc, PoolSchema)
	pool, found, err := pools.Get(PoolEntityId(event.ChainId, poolId))
	if err != nil {
		return err
	}
	token0, decimals0 := load.token0, load.decimals0
	token1, decimals1 := load.token1, load.decimals1
	if found {
		if pool.Currency0 != token0 {
			token0, decimals0 = pool.Currency0, h.fetchDecimals(ctx, hc, event.ChainId, pool.Currency0)
		}
		if pool.Currency1 != token1 {
			token1, decimals1 = pool.Currency1, h.fetchDecimals(ctx, hc, event.ChainId, pool.Currency1)
		}
	}

	swap := &Swap{
		Id:           event.Coordinates.String(),
		ChainId:      event.ChainId,
		BlockNumber:  event.BlockNumber,
		BlockTime:    event.BlockTime(),
		TxHash:       utils.LowerHex(event.TransactionHash),
		LogIndex:     event.LogIndex,
		PoolId:       poolId,
		Token0:       token0,
		Token1:       token1,
		Amount0:      params.Amount0,
		Amount1:      params.Amount1,
		SqrtPriceX96: params.SqrtPriceX96,
		Tick:         params.Tick,
		Liquidity:    params.Liquidity,
		Fee:          params.Fee,
		Sender:       utils.LowerHex(params.Sender),
		Origin:       utils.LowerHex(event.TransactionFrom),
	}
	if decimals0 != nil {
		swap.Amount0Adjusted = params.Amount0.Shift(-int32(*decimals0))
	}
	if decimals1 != nil {
		swap.Amount1Adjusted = params.Amount1.Shift(-int32(*decimals1))
	}
	if err := executionContext.Writer(hc, SwapSchema).Set(swap); err != nil {
		return err
	}

	if !found {
		pool = &Pool{
			Id:             PoolEntityId(event.ChainId, poolId),
			ChainId:        event.ChainId,
			PoolId:         poolId,
			Currency0:      token0,
			Currency1:      token1,
			Fee:            params.Fee,
			CreatedAtBlock: event.BlockNumber,
		}
	}
	pool.SqrtPriceX96 = params.SqrtPriceX96
	pool.Tick = params.Tick
	pool.Liquidity = params.Liquidity
	pool.SwapCount++
	pool.VolumeToken0 = pool.VolumeToken0.Add(params.Amount0.Abs())
	pool.VolumeToken1 = pool.VolumeToken1.Add(params.Amount1.Abs())
	pool.LastSwapBlock = event.BlockNumber
	if err := pools.Set(pool); err != nil {
		return err
	}

	hc.Log().Sugar().Debugw("Indexed swap",
		zap.String("swapId", swap.Id),
		zap.String("poolId", poolId),
		zap.String("amount0", params.Amount0.String()),
		zap.String("amount1", params.Amount1.String()),
	)
	return nil
}

func (h *PoolManagerHandlers) handleInitialize(ctx context.Context, hc executionContext.HandlerContext, event *events.Event, loaded any) error {
	params := &InitializeParams{}
	if err := event.DecodeParams(params); err != nil {
		return err
	}
	poolId := utils.LowerHex(params.Id)
	if !h.isTarget(poolId) {
		return nil
	}

	pool := &Pool{
		Id:             PoolEntityId(event.ChainId, poolId),
		ChainId:        event.ChainId,
		PoolId:         poolId,
		Currency0:      utils.LowerHex(params.Currency0),
		Currency1:      utils.LowerHex(params.Currency1),
		Fee:            params.Fee,
		TickSpacing:    params.TickSpacing,
		Hooks:          utils.LowerHex(params.Hooks),
		SqrtPriceX96:   params.SqrtPriceX96,
		Tick:           params.Tick,
		Liquidity:      decimal.Zero,
		CreatedAtBlock: event.BlockNumber,
	}
	if err := executionContext.Writer(hc, PoolSchema).Set(pool); err != nil {
		return err
	}
	hc.Log().Sugar().Infow("Pool initialized", zap.String("poolId", poolId))
	return nil
}

func (h *PoolManagerHandlers) handleModifyLiquidity(ctx context.Context, hc executionContext.HandlerContext, event *events.Event, loaded any) error {
	params := &ModifyLiquidityParams{}
	if err := event.DecodeParams(params); err != nil {
		return err
	}
	hc.Log().Sugar().Debugw("Liquidity modified",
		zap.String("poolId", utils.LowerHex(params.Id)),
		zap.Int64("tickLower", params.TickLower),
		zap.Int64("tickUpper", params.TickUpper),
		zap.String("liquidityDelta", params.LiquidityDelta.String()),
	)
	return nil
}
