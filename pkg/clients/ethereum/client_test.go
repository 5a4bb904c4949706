package ethereum

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseUrl = "http://rpc.local"

func newTestClient(maxRetries int) (*Client, *http.Client) {
	cfg := DefaultEthereumClientConfig()
	cfg.BaseUrl = baseUrl
	cfg.MaxRetries = maxRetries
	cfg.RetryDelay = time.Millisecond
	cfg.NativeBatchCallSize = 2
	client := NewClient(cfg, tests.GetLogger())
	httpClient := &http.Client{}
	client.SetHttpClient(httpClient)
	return client, httpClient
}

func Test_EthereumClient(t *testing.T) {
	t.Run("Should parse the block number", func(t *testing.T) {
		client, httpClient := newTestClient(0)
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		httpmock.RegisterResponder("POST", baseUrl,
			httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"result":"0x1b4"}`))

		n, err := client.GetBlockNumberUint64(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(436), n)
	})
	t.Run("Should retry transport failures", func(t *testing.T) {
		client, httpClient := newTestClient(3)
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		httpmock.RegisterResponder("POST", baseUrl,
			httpmock.NewStringResponder(502, `bad gateway`).Times(2).
				Then(httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"result":"0x2a"}`)))

		out, err := client.EthCall(context.Background(), common.HexToAddress("0x01"), []byte{0x31, 0x3c, 0xe5, 0x67})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x2a}, out)
		assert.Equal(t, 3, httpmock.GetTotalCallCount())
	})
	t.Run("Should not retry rpc error responses", func(t *testing.T) {
		client, httpClient := newTestClient(3)
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		httpmock.RegisterResponder("POST", baseUrl,
			httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"error":{"code":3,"message":"execution reverted"}}`))

		_, err := client.EthCall(context.Background(), common.HexToAddress("0x01"), []byte{0x01})
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, int64(3), rpcErr.Code)
		assert.Equal(t, 1, httpmock.GetTotalCallCount())
	})
	t.Run("Should split batches and order responses by id", func(t *testing.T) {
		client, httpClient := newTestClient(0)
		httpmock.ActivateNonDefault(httpClient)
		defer httpmock.DeactivateAndReset()

		httpmock.RegisterResponder("POST", baseUrl,
			httpmock.NewStringResponder(200, `[{"jsonrpc":"2.0","id":2,"result":"0x02"},{"jsonrpc":"2.0","id":1,"result":"0x01"}]`).Once().
				Then(httpmock.NewStringResponder(200, `[{"jsonrpc":"2.0","id":3,"result":"0x03"}]`)))

		requests := []*RPCRequest{
			EthCallRequest(common.HexToAddress("0x01"), nil, 1),
			EthCallRequest(common.HexToAddress("0x01"), nil, 2),
			EthCallRequest(common.HexToAddress("0x01"), nil, 3),
		}
		res, err := client.BatchCall(context.Background(), requests)
		require.NoError(t, err)
		require.Len(t, res, 3)
		for i, r := range res {
			assert.Equal(t, uint(i+1), *r.ID)
		}
		assert.Equal(t, 2, httpmock.GetTotalCallCount())
	})
}
