package tokens

import (
	"fmt"
	"math/big"
	"strconv"
)

// Decoded event fields arrive as JSON values whose numeric shape depends on
// the connector's ABI decoder: small numbers may come through as float64,
// large ones as decimal strings. These helpers normalize both.

func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func dataBool(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	b, _ := data[key].(bool)
	return b
}

func dataBigInt(data map[string]any, key string) (*big.Int, error) {
	if data == nil {
		return nil, fmt.Errorf("missing field %q", key)
	}
	v, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	n, err := toBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("bad field %q: %w", key, err)
	}
	return n, nil
}

func dataSlice(data map[string]any, key string) ([]any, error) {
	if data == nil {
		return nil, fmt.Errorf("missing field %q", key)
	}
	s, ok := data[key].([]any)
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	return s, nil
}

func toBigInt(v any) (*big.Int, error) {
	switch v := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("not a decimal integer: %q", v)
		}
		return n, nil
	case float64:
		return new(big.Int).SetInt64(int64(v)), nil
	default:
		return nil, fmt.Errorf("not a number: %v", v)
	}
}

func toDecimalString(v any) string {
	n, err := toBigInt(v)
	if err != nil {
		return ""
	}
	return n.Text(10)
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
