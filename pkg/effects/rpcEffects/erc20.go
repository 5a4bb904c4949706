package rpcEffects

import (
	"bytes"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20StringAbiJson = `[
	{"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

// some older tokens (MKR, SAI) return bytes32 for symbol and name
const erc20Bytes32AbiJson = `[
	{"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

var (
	abiOnce          sync.Once
	erc20StringAbi   abi.ABI
	erc20Bytes32Abi  abi.ABI
	erc20AbiParseErr error
)

func erc20Abis() (abi.ABI, abi.ABI, error) {
	abiOnce.Do(func() {
		erc20StringAbi, erc20AbiParseErr = abi.JSON(strings.NewReader(erc20StringAbiJson))
		if erc20AbiParseErr != nil {
			return
		}
		erc20Bytes32Abi, erc20AbiParseErr = abi.JSON(strings.NewReader(erc20Bytes32AbiJson))
	})
	return erc20StringAbi, erc20Bytes32Abi, erc20AbiParseErr
}

// unpackText decodes a string or bytes32 return value.
func unpackText(method string, data []byte) (string, bool) {
	stringAbi, bytes32Abi, err := erc20Abis()
	if err != nil || len(data) == 0 {
		return "", false
	}
	if values, err := stringAbi.Unpack(method, data); err == nil && len(values) == 1 {
		if s, ok := values[0].(string); ok {
			return s, true
		}
	}
	if values, err := bytes32Abi.Unpack(method, data); err == nil && len(values) == 1 {
		if b, ok := values[0].([32]byte); ok {
			return string(bytes.TrimRight(b[:], "\x00")), true
		}
	}
	return "", false
}
