package rpcEffects

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/Layr-Labs/unichain-indexer/pkg/clients/ethereum"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rpcUrl = "http://unichain-rpc.local"

type mockToken struct {
	decimals     []byte
	symbol       []byte
	name         []byte
	revertSymbol bool
}

func encodeOutputs(t *testing.T, method string, value any) []byte {
	stringAbi, bytes32Abi, err := erc20Abis()
	require.NoError(t, err)
	if _, ok := value.([32]byte); ok {
		out, err := bytes32Abi.Methods[method].Outputs.Pack(value)
		require.NoError(t, err)
		return out
	}
	out, err := stringAbi.Methods[method].Outputs.Pack(value)
	require.NoError(t, err)
	return out
}

func registerToken(t *testing.T, token mockToken, requests *atomic.Int64) {
	stringAbi, _, err := erc20Abis()
	require.NoError(t, err)
	selectors := map[string]string{
		hexutil.Encode(stringAbi.Methods["decimals"].ID): "decimals",
		hexutil.Encode(stringAbi.Methods["symbol"].ID):   "symbol",
		hexutil.Encode(stringAbi.Methods["name"].ID):     "name",
	}

	httpmock.RegisterResponder("POST", rpcUrl, func(req *http.Request) (*http.Response, error) {
		requests.Add(1)
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		batch := []struct {
			ID     uint `json:"id"`
			Params []json.RawMessage
		}{}
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		responses := make([]map[string]any, 0, len(batch))
		for _, r := range batch {
			args := struct {
				Data string `json:"data"`
			}{}
			_ = json.Unmarshal(r.Params[0], &args)
			res := map[string]any{"jsonrpc": "2.0", "id": r.ID}
			switch selectors[args.Data] {
			case "decimals":
				res["result"] = hexutil.Encode(token.decimals)
			case "symbol":
				if token.revertSymbol {
					res["error"] = map[string]any{"code": 3, "message": "execution reverted"}
				} else {
					res["result"] = hexutil.Encode(token.symbol)
				}
			case "name":
				res["result"] = hexutil.Encode(token.name)
			}
			responses = append(responses, res)
		}
		return httpmock.NewJsonResponse(http.StatusOK, responses)
	})
}

func newClient() (*ethereum.Client, *http.Client) {
	l := tests.GetLogger()
	cfg := ethereum.DefaultEthereumClientConfig()
	cfg.BaseUrl = rpcUrl
	cfg.MaxRetries = 0
	client := ethereum.NewClient(cfg, l)
	httpClient := &http.Client{}
	client.SetHttpClient(httpClient)
	return client, httpClient
}

func Test_TokenMetadataEffect(t *testing.T) {
	l := tests.GetLogger()

	t.Run("Should read decimals, symbol and name in one batch", func(t *testing.T) {
		client, httpClient := newClient()
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		requests := atomic.Int64{}
		registerToken(t, mockToken{
			decimals: encodeOutputs(t, "decimals", uint8(8)),
			symbol:   encodeOutputs(t, "symbol", "WBTC"),
			name:     encodeOutputs(t, "name", "Wrapped BTC"),
		}, &requests)

		cache := effects.NewEffectCache(nil, metrics.NewNoopMetricsSink(), l)
		eff := NewTokenMetadataEffect(client, l)
		require.NoError(t, cache.Register(eff))

		input := NormalizeTokenInput(130, "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
		meta, err := eff.Call(context.Background(), cache, input)
		require.NoError(t, err)
		assert.Equal(t, uint8(8), meta.Decimals)
		assert.Equal(t, "WBTC", meta.Symbol)
		assert.Equal(t, "Wrapped BTC", meta.Name)
		assert.Equal(t, "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", meta.Address)

		_, err = eff.Call(context.Background(), cache, input)
		require.NoError(t, err)
		assert.Equal(t, int64(1), requests.Load())
	})
	t.Run("Should decode bytes32 names and tolerate a reverting symbol", func(t *testing.T) {
		client, httpClient := newClient()
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		var maker [32]byte
		copy(maker[:], "Maker")
		requests := atomic.Int64{}
		registerToken(t, mockToken{
			decimals:     encodeOutputs(t, "decimals", uint8(18)),
			name:         encodeOutputs(t, "name", maker),
			revertSymbol: true,
		}, &requests)

		meta, err := fetchTokenMetadata(context.Background(), client, NormalizeTokenInput(1, "0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2"), l)
		require.NoError(t, err)
		assert.Equal(t, uint8(18), meta.Decimals)
		assert.Equal(t, "", meta.Symbol)
		assert.Equal(t, "Maker", meta.Name)
	})
	t.Run("Should fail when decimals cannot be read", func(t *testing.T) {
		client, httpClient := newClient()
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		requests := atomic.Int64{}
		registerToken(t, mockToken{}, &requests)

		_, err := fetchTokenMetadata(context.Background(), client, NormalizeTokenInput(1, "0x0000000000000000000000000000000000000001"), l)
		assert.Error(t, err)
	})
	t.Run("Should reject malformed addresses without calling the node", func(t *testing.T) {
		client, httpClient := newClient()
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		_, err := fetchTokenMetadata(context.Background(), client, NormalizeTokenInput(1, "not-an-address"), l)
		assert.Error(t, err)
		assert.Equal(t, 0, httpmock.GetTotalCallCount())
	})
}
