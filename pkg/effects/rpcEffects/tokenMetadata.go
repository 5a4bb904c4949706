package rpcEffects

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Layr-Labs/unichain-indexer/pkg/clients/ethereum"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const TokenMetadataEffectId = "tokenMetadata"

type TokenMetadataInput struct {
	ChainId uint64 `json:"chainId"`
	Token   string `json:"token"`
}

type TokenMetadata struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

type RpcCaller interface {
	BatchCall(ctx context.Context, requests []*ethereum.RPCRequest) ([]*ethereum.RPCResponse, error)
}

// NewTokenMetadataEffect reads decimals, symbol and name of an ERC20 in a single batch request.
// decimals is required; symbol and name fall back to empty strings.
func NewTokenMetadataEffect(client RpcCaller, l *zap.Logger) *effects.Effect[TokenMetadataInput, TokenMetadata] {
	return effects.NewEffect(TokenMetadataEffectId, func(ctx context.Context, in TokenMetadataInput) (TokenMetadata, error) {
		return fetchTokenMetadata(ctx, client, in, l)
	})
}

// NormalizeTokenInput lowercases the address so that equivalent inputs share one cache entry.
func NormalizeTokenInput(chainId uint64, token string) TokenMetadataInput {
	return TokenMetadataInput{ChainId: chainId, Token: strings.ToLower(token)}
}

func fetchTokenMetadata(ctx context.Context, client RpcCaller, in TokenMetadataInput, l *zap.Logger) (TokenMetadata, error) {
	meta := TokenMetadata{Address: in.Token}
	if !common.IsHexAddress(in.Token) {
		return meta, fmt.Errorf("invalid token address %q", in.Token)
	}
	token := common.HexToAddress(in.Token)

	stringAbi, _, err := erc20Abis()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}

	methods := []string{"decimals", "symbol", "name"}
	requests := make([]*ethereum.RPCRequest, 0, len(methods))
	for i, method := range methods {
		data, err := stringAbi.Pack(method)
		if err != nil {
			return meta, fmt.Errorf("pack %s: %w", method, err)
		}
		requests = append(requests, ethereum.EthCallRequest(token, data, uint(i+1)))
	}

	responses, err := client.BatchCall(ctx, requests)
	if err != nil {
		return meta, err
	}
	if len(responses) != len(methods) {
		return meta, fmt.Errorf("expected %d responses, got %d", len(methods), len(responses))
	}

	results := make([][]byte, len(methods))
	for i, res := range responses {
		if res.Error != nil {
			l.Sugar().Debugw("ERC20 call returned an error",
				zap.String("token", in.Token),
				zap.String("method", methods[i]),
				zap.String("error", res.Error.Message),
			)
			continue
		}
		var encoded string
		if err := json.Unmarshal(res.Result, &encoded); err != nil {
			continue
		}
		if decoded, err := hexutil.Decode(encoded); err == nil {
			results[i] = decoded
		}
	}

	if len(results[0]) == 0 {
		return meta, fmt.Errorf("token %s did not return decimals", in.Token)
	}
	values, err := stringAbi.Unpack("decimals", results[0])
	if err != nil || len(values) != 1 {
		return meta, fmt.Errorf("unpack decimals for %s: %v", in.Token, err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	meta.Decimals = decimals

	if symbol, ok := unpackText("symbol", results[1]); ok {
		meta.Symbol = symbol
	}
	if name, ok := unpackText("name", results[2]); ok {
		meta.Name = name
	}
	return meta, nil
}
