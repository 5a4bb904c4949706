package utils

import (
	"encoding/hex"
	"strings"
)

type hexer interface {
	Hex() string
}

// LowerHex renders an address or hash as lowercase 0x-prefixed hex, the form ids and index values use.
func LowerHex(v hexer) string {
	return strings.ToLower(v.Hex())
}

func ConvertBytesToString(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
