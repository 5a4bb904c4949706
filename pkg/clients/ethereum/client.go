package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/pkg/utils"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type RequestMethod struct {
	Name    string
	Timeout time.Duration
}

type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint   `json:"id"`
}

type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

var jsonRPCVersion = "2.0"

type Client struct {
	Logger       *zap.Logger
	httpClient   *http.Client
	clientConfig *EthereumClientConfig
}

type EthereumClientConfig struct {
	BaseUrl             string
	NativeBatchCallSize int // Number of calls to put in a single batch request
	MaxRetries          int
	RetryDelay          time.Duration
}

func ConvertGlobalConfigToEthereumConfig(cfg *config.EthereumRpcConfig) *EthereumClientConfig {
	c := DefaultEthereumClientConfig()
	c.BaseUrl = cfg.BaseUrl
	return c
}

func DefaultEthereumClientConfig() *EthereumClientConfig {
	return &EthereumClientConfig{
		NativeBatchCallSize: 100,
		MaxRetries:          5,
		RetryDelay:          time.Second,
	}
}

func NewClient(cfg *EthereumClientConfig, l *zap.Logger) *Client {
	client := &http.Client{
		Timeout: time.Second * 10,
	}

	l.Sugar().Infow("Creating new Ethereum client", zap.String("baseUrl", cfg.BaseUrl))

	return &Client{
		httpClient:   client,
		Logger:       l,
		clientConfig: cfg,
	}
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) GetBlockNumberUint64(ctx context.Context) (uint64, error) {
	res, err := c.Call(ctx, GetBlockRequest(1))
	if err != nil {
		return 0, err
	}
	return RPCMethod_GetBlock.ResponseParser(res.Result)
}

// EthCall executes a read-only contract call at the latest block.
func (c *Client) EthCall(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	res, err := c.Call(ctx, EthCallRequest(to, data, 1))
	if err != nil {
		return nil, err
	}
	return RPCMethod_ethCall.ResponseParser(res.Result)
}

func (c *Client) post(ctx context.Context, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clientConfig.BaseUrl, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %s", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed %v", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body %v", err)
	}

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received http error code %+v", response.StatusCode)
	}
	return responseBody, nil
}

func (c *Client) call(ctx context.Context, rpcRequest *RPCRequest) (*RPCResponse, error) {
	requestBody, err := json.Marshal(rpcRequest)
	if err != nil {
		return nil, utils.Permanent(err)
	}
	c.Logger.Sugar().Debugw("Request body", zap.String("requestBody", string(requestBody)))

	timeout := RPCMethod_GetBlock.RequestMethod.Timeout
	if rpcRequest.Method == RPCMethod_ethCall.RequestMethod.Name {
		timeout = RPCMethod_ethCall.RequestMethod.Timeout
	}
	responseBody, err := c.post(ctx, requestBody, timeout)
	if err != nil {
		return nil, err
	}

	destination := &RPCResponse{}
	if err := json.Unmarshal(responseBody, destination); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %s", err)
	}

	// the node answered; retrying an error response will not change it
	if destination.Error != nil {
		return nil, utils.Permanent(destination.Error)
	}
	return destination, nil
}

// Call sends a single request, retrying transport failures with exponential backoff.
func (c *Client) Call(ctx context.Context, rpcRequest *RPCRequest) (*RPCResponse, error) {
	var res *RPCResponse
	attempt := 0
	err := utils.WithRetry(ctx, c.clientConfig.MaxRetries, c.clientConfig.RetryDelay, func(ctx context.Context) error {
		attempt++
		r, err := c.call(ctx, rpcRequest)
		if err != nil {
			c.Logger.Sugar().Warnw("Failed to call",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.String("method", rpcRequest.Method),
			)
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		c.Logger.Sugar().Errorw("Exceeded retries for Call", zap.String("method", rpcRequest.Method), zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (c *Client) batchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	requestBody, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requests: %s", err)
	}

	responseBody, err := c.post(ctx, requestBody, time.Second*20)
	if err != nil {
		return nil, err
	}

	destination := []*RPCResponse{}
	if bytes.HasPrefix(bytes.TrimSpace(responseBody), []byte("{")) {
		errorResponse := RPCResponse{}
		if err := json.Unmarshal(responseBody, &errorResponse); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error response: %s", err)
		}
		return nil, fmt.Errorf("error payload returned from batch call: %s", string(responseBody))
	}
	if err := json.Unmarshal(responseBody, &destination); err != nil {
		c.Logger.Sugar().Errorw("failed to unmarshal batch call response",
			zap.Error(err),
			zap.String("response", string(responseBody)),
		)
		return nil, fmt.Errorf("failed to unmarshal response: %s", err)
	}
	return destination, nil
}

// BatchCall sends requests as native JSON-RPC batches of NativeBatchCallSize.
// Responses are returned in request ID order; per-request errors are left on each response.
func (c *Client) BatchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	if len(requests) == 0 {
		return make([]*RPCResponse, 0), nil
	}
	size := c.clientConfig.NativeBatchCallSize
	if size <= 0 {
		size = len(requests)
	}

	results := make([]*RPCResponse, 0, len(requests))
	for start := 0; start < len(requests); start += size {
		end := min(start+size, len(requests))
		res, err := c.batchCall(ctx, requests[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, res...)
	}
	if len(results) != len(requests) {
		return nil, fmt.Errorf("failed to fetch results for all requests. Expected %d, got %d", len(requests), len(results))
	}

	slices.SortFunc(results, func(i, j *RPCResponse) int {
		if i.ID == nil || j.ID == nil {
			return 0
		}
		return int(*i.ID) - int(*j.ID)
	})
	return results, nil
}
