package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EncodeHex encodes an opaque byte payload as 0x-prefixed hex. An empty
// payload encodes to a single null byte because the upstream connector
// rejects zero-length byte arguments.
func EncodeHex(data []byte) string {
	if len(data) == 0 {
		return "0x00"
	}
	return hexutil.Encode(data)
}

// DecodeHex reverses EncodeHex. "0x00" decodes back to an empty payload.
func DecodeHex(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	data, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex payload: %w", err)
	}
	if len(data) == 1 && data[0] == 0 {
		return []byte{}, nil
	}
	return data, nil
}
