package ethereum

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ResponseParserFunc[T any] func(res json.RawMessage) (T, error)

type RequestResponseHandler[T any] struct {
	RequestMethod  *RequestMethod
	ResponseParser ResponseParserFunc[T]
}

var (
	RPCMethod_GetBlock = &RequestResponseHandler[uint64]{
		RequestMethod: &RequestMethod{
			Name:    "eth_blockNumber",
			Timeout: time.Second * 5,
		},
		ResponseParser: func(res json.RawMessage) (uint64, error) {
			return hexutil.DecodeUint64(strings.ReplaceAll(string(res), "\"", ""))
		},
	}
	RPCMethod_ethCall = &RequestResponseHandler[[]byte]{
		RequestMethod: &RequestMethod{
			Name:    "eth_call",
			Timeout: time.Second * 10,
		},
		ResponseParser: func(res json.RawMessage) ([]byte, error) {
			var encoded string
			if err := json.Unmarshal(res, &encoded); err != nil {
				return nil, err
			}
			return hexutil.Decode(encoded)
		},
	}
)

func GetBlockRequest(id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_GetBlock.RequestMethod.Name,
		ID:      id,
	}
}

type callArgs struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// EthCallRequest builds an eth_call against the latest block.
func EthCallRequest(to common.Address, data []byte, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_ethCall.RequestMethod.Name,
		Params: []interface{}{
			callArgs{To: to.Hex(), Data: hexutil.Encode(data)},
			"latest",
		},
		ID: id,
	}
}
