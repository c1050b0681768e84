// Package methods resolves logical token operations onto the ABI method
// variants a deployed contract actually supports. Candidates are tried in
// priority order and the first one whose parameters can be populated from
// the request wins.
package methods

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/marko911/token-bridge/internal/codec"
)

// Operation is one of the logical token operations the bridge submits.
type Operation string

const (
	OpMint     Operation = "mint"
	OpBurn     Operation = "burn"
	OpTransfer Operation = "transfer"
	OpApproval Operation = "approval"
)

// ErrUnsupported classifies bad-request failures: no method variant on this
// contract shape can satisfy the request. Never retried.
var ErrUnsupported = errors.New("operation not supported by contract shape")

// Request carries the caller-supplied fields of a token operation.
type Request struct {
	From     string
	To       string
	Operator string
	Amount   *big.Int

	// TokenIndex is the non-fungible item index, decimal. Empty means the
	// caller supplied none.
	TokenIndex string

	Data     []byte
	URI      string
	Approved bool
}

// Capabilities describes which method variants the target contract exposes.
type Capabilities struct {
	// WithData: the *WithData method variants carrying an extra bytes arg.
	WithData bool

	// WithURI: non-fungible mint variant accepting a token URI.
	WithURI bool

	// ExplicitIndex: the contract mints specific token ids rather than
	// auto-assigning indices.
	ExplicitIndex bool
}

// candidate is one ABI method signature plus the mapping from request fields
// to call parameters. map returns ok=false when the candidate is
// structurally inapplicable, letting the next candidate be tried.
type candidate struct {
	name string
	map_ func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool)
}

var mintCandidates = []candidate{
	{"mint", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if !caps.ExplicitIndex {
			return nil, false
		}
		id, err := requestTokenID(pool, req)
		if err != nil {
			return nil, false
		}
		return []any{req.To, id, req.Amount.Text(10), codec.EncodeHex(req.Data)}, true
	}},
	{"mintNonFungibleWithURI", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if pool.IsFungible || !caps.WithURI || req.URI == "" {
			return nil, false
		}
		return []any{pool.TypeID().Text(10), []string{req.To}, codec.EncodeHex(req.Data), req.URI}, true
	}},
	{"mintNonFungible", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if pool.IsFungible {
			return nil, false
		}
		return []any{pool.TypeID().Text(10), []string{req.To}, codec.EncodeHex(req.Data)}, true
	}},
	{"mintFungible", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if !pool.IsFungible {
			return nil, false
		}
		return []any{pool.TypeID().Text(10), []string{req.To}, []string{req.Amount.Text(10)}, codec.EncodeHex(req.Data)}, true
	}},
}

var burnCandidates = []candidate{
	{"burnWithData", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if !caps.WithData {
			return nil, false
		}
		id, err := requestTokenID(pool, req)
		if err != nil {
			return nil, false
		}
		return []any{req.From, id, req.Amount.Text(10), codec.EncodeHex(req.Data)}, true
	}},
	{"burn", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		id, err := requestTokenID(pool, req)
		if err != nil {
			return nil, false
		}
		return []any{req.From, id, req.Amount.Text(10)}, true
	}},
}

var transferCandidates = []candidate{
	{"safeTransferFromWithData", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if !caps.WithData {
			return nil, false
		}
		id, err := requestTokenID(pool, req)
		if err != nil {
			return nil, false
		}
		return []any{req.From, req.To, id, req.Amount.Text(10), codec.EncodeHex(req.Data)}, true
	}},
	{"safeTransferFrom", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		id, err := requestTokenID(pool, req)
		if err != nil {
			return nil, false
		}
		return []any{req.From, req.To, id, req.Amount.Text(10), codec.EncodeHex(req.Data)}, true
	}},
}

var approvalCandidates = []candidate{
	{"setApprovalForAllWithData", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		if !caps.WithData {
			return nil, false
		}
		return []any{req.Operator, req.Approved, codec.EncodeHex(req.Data)}, true
	}},
	{"setApprovalForAll", func(pool codec.PoolLocator, caps Capabilities, req Request) ([]any, bool) {
		return []any{req.Operator, req.Approved}, true
	}},
}

var candidatesByOp = map[Operation][]candidate{
	OpMint:     mintCandidates,
	OpBurn:     burnCandidates,
	OpTransfer: transferCandidates,
	OpApproval: approvalCandidates,
}

// Resolve picks the first applicable method variant for the operation and
// maps the request onto its parameters.
func Resolve(op Operation, pool codec.PoolLocator, caps Capabilities, req Request) (string, []any, error) {
	if err := validate(op, pool, caps, req); err != nil {
		return "", nil, err
	}

	candidates, ok := candidatesByOp[op]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown operation %q", ErrUnsupported, op)
	}

	for _, c := range candidates {
		if params, ok := c.map_(pool, caps, req); ok {
			return c.name, params, nil
		}
	}
	return "", nil, fmt.Errorf("%w: no %s variant applies", ErrUnsupported, op)
}

// validate enforces the index-presence rules independently of which
// signature is ultimately selected.
func validate(op Operation, pool codec.PoolLocator, caps Capabilities, req Request) error {
	if pool.IsFungible || op == OpApproval {
		return nil
	}

	switch {
	case caps.ExplicitIndex && req.TokenIndex == "":
		return fmt.Errorf("%w: token index required for this contract", ErrUnsupported)
	case !caps.ExplicitIndex && op == OpMint && req.TokenIndex != "":
		return fmt.Errorf("%w: contract auto-assigns indices, token index must be omitted", ErrUnsupported)
	case !caps.ExplicitIndex && op == OpMint && req.Amount != nil && req.Amount.Cmp(big.NewInt(1)) != 0:
		return fmt.Errorf("%w: non-fungible mint amount must be 1", ErrUnsupported)
	}
	return nil
}

// requestTokenID packs the full 256-bit token id referenced by the request,
// rendered decimal for the connector.
func requestTokenID(pool codec.PoolLocator, req Request) (string, error) {
	index := big.NewInt(0)
	if !pool.IsFungible {
		if req.TokenIndex == "" {
			return "", fmt.Errorf("%w: token index required", ErrUnsupported)
		}
		parsed, ok := new(big.Int).SetString(req.TokenIndex, 10)
		if !ok || parsed.Sign() < 0 {
			return "", fmt.Errorf("%w: bad token index %q", ErrUnsupported, req.TokenIndex)
		}
		index = parsed
	}

	id, err := codec.PackTokenID(pool.IsFungible, pool.TypeID(), index)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, err)
	}
	return id.Text(10), nil
}
