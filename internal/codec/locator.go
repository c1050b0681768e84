package codec

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	typeFungible    = "fungible"
	typeNonFungible = "nonfungible"
)

var ErrBadPoolLocator = errors.New("unrecognized pool locator")

// PoolLocator identifies a token pool: the contract that owns it, its
// fungibility, the inclusive [StartID, EndID] slice of the 256-bit id space
// it covers, and the block the pool was created at.
//
// Locators are created once at pool-creation time and never re-encoded
// afterwards; the encoded string is a durable external identifier.
type PoolLocator struct {
	Address     string
	IsFungible  bool
	StartID     *big.Int
	EndID       *big.Int
	BlockNumber uint64
}

// Encode renders the locator as an ordered query string. The field order is
// fixed so encoded locators are stable and human-diffable.
func (p PoolLocator) Encode() string {
	poolType := typeNonFungible
	if p.IsFungible {
		poolType = typeFungible
	}
	return "address=" + url.QueryEscape(p.Address) +
		"&type=" + poolType +
		"&startId=" + url.QueryEscape(hexutil.EncodeBig(p.StartID)) +
		"&endId=" + url.QueryEscape(hexutil.EncodeBig(p.EndID)) +
		"&block=" + strconv.FormatUint(p.BlockNumber, 10)
}

// TypeID returns the pool's type id, derived from the start of its range.
func (p PoolLocator) TypeID() *big.Int {
	_, typeID, _ := UnpackTokenID(p.StartID)
	return typeID
}

// PoolID renders the compact [F|N]<typeId> form of the pool's type.
func (p PoolLocator) PoolID() string {
	prefix := "N"
	if p.IsFungible {
		prefix = "F"
	}
	return prefix + p.TypeID().Text(10)
}

// DecodePoolLocator parses either the full query-string locator form or the
// legacy short form "id=<poolId>[&block=..]". The legacy form expands through
// the split-bit scheme into the same range the full form would carry; its
// contract address is unknown and left empty for the caller to default.
func DecodePoolLocator(s string) (PoolLocator, error) {
	values, err := url.ParseQuery(s)
	if err != nil {
		return PoolLocator{}, fmt.Errorf("%w: %s", ErrBadPoolLocator, s)
	}

	if id := values.Get("id"); id != "" {
		return decodeLegacyLocator(id, values.Get("block"))
	}

	address := values.Get("address")
	poolType := values.Get("type")
	startID := values.Get("startId")
	endID := values.Get("endId")
	block := values.Get("block")
	if address == "" || startID == "" || endID == "" || block == "" {
		return PoolLocator{}, fmt.Errorf("%w: %s", ErrBadPoolLocator, s)
	}
	if !common.IsHexAddress(address) {
		return PoolLocator{}, fmt.Errorf("%w: bad address %q", ErrBadPoolLocator, address)
	}
	if poolType != typeFungible && poolType != typeNonFungible {
		return PoolLocator{}, fmt.Errorf("%w: bad type %q", ErrBadPoolLocator, poolType)
	}

	start, err := hexutil.DecodeBig(startID)
	if err != nil {
		return PoolLocator{}, fmt.Errorf("%w: bad startId %q", ErrBadPoolLocator, startID)
	}
	end, err := hexutil.DecodeBig(endID)
	if err != nil {
		return PoolLocator{}, fmt.Errorf("%w: bad endId %q", ErrBadPoolLocator, endID)
	}
	blockNumber, err := strconv.ParseUint(block, 10, 64)
	if err != nil {
		return PoolLocator{}, fmt.Errorf("%w: bad block %q", ErrBadPoolLocator, block)
	}

	return PoolLocator{
		Address:     address,
		IsFungible:  poolType == typeFungible,
		StartID:     start,
		EndID:       end,
		BlockNumber: blockNumber,
	}, nil
}

// NewPoolLocator builds the locator for a pool of the given type. Fungible
// pools own exactly the index-0 id of their type; non-fungible pools own the
// full 128-bit index range.
func NewPoolLocator(address string, isFungible bool, typeID *big.Int, blockNumber uint64) (PoolLocator, error) {
	start, err := PackTokenID(isFungible, typeID, big.NewInt(0))
	if err != nil {
		return PoolLocator{}, err
	}
	end := start
	if !isFungible {
		end, err = PackTokenID(isFungible, typeID, maxTokenIndex)
		if err != nil {
			return PoolLocator{}, err
		}
	}
	return PoolLocator{
		Address:     address,
		IsFungible:  isFungible,
		StartID:     start,
		EndID:       end,
		BlockNumber: blockNumber,
	}, nil
}

// ParsePoolID parses the compact [F|N]<integer> pool id token.
func ParsePoolID(id string) (isFungible bool, typeID *big.Int, err error) {
	if len(id) < 2 {
		return false, nil, fmt.Errorf("%w: bad pool id %q", ErrBadPoolLocator, id)
	}
	switch id[0] {
	case 'F':
		isFungible = true
	case 'N':
		isFungible = false
	default:
		return false, nil, fmt.Errorf("%w: bad pool id %q", ErrBadPoolLocator, id)
	}
	typeID, ok := new(big.Int).SetString(id[1:], 10)
	if !ok || typeID.Sign() < 0 || strings.ContainsAny(id[1:], "+-") {
		return false, nil, fmt.Errorf("%w: bad pool id %q", ErrBadPoolLocator, id)
	}
	return isFungible, typeID, nil
}

func decodeLegacyLocator(id, block string) (PoolLocator, error) {
	isFungible, typeID, err := ParsePoolID(id)
	if err != nil {
		return PoolLocator{}, err
	}
	var blockNumber uint64
	if block != "" {
		blockNumber, err = strconv.ParseUint(block, 10, 64)
		if err != nil {
			return PoolLocator{}, fmt.Errorf("%w: bad block %q", ErrBadPoolLocator, block)
		}
	}
	return NewPoolLocator("", isFungible, typeID, blockNumber)
}
