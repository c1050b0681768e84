package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/marko911/token-bridge/internal/codec"
	"github.com/marko911/token-bridge/internal/connector"
	"github.com/marko911/token-bridge/internal/methods"
)

// ServiceConfig holds the token contract wiring.
type ServiceConfig struct {
	// ContractAddress is the default token contract, used when a legacy
	// pool locator carries no address of its own.
	ContractAddress string

	// ContractInfoURL serves the contract's method list. Empty means the
	// full mixed-fungible method set is assumed.
	ContractInfoURL string
}

// Service submits token operations: it resolves each logical operation onto
// a concrete ABI method for the target contract and sends it through the
// connector. Submission is asynchronous; the returned request id correlates
// the eventual receipt on the event stream.
type Service struct {
	cfg    ServiceConfig
	conn   *connector.Client
	logger *slog.Logger

	capsMu     sync.Mutex
	caps       methods.Capabilities
	capsLoaded bool
}

func NewService(cfg ServiceConfig, conn *connector.Client, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		conn:   conn,
		logger: logger.With("component", "tokens"),
	}
}

// PoolRequest creates a new token pool on the contract.
type PoolRequest struct {
	Signer     string
	IsFungible bool
	Data       []byte
	RequestID  string
}

// TransferRequest covers mint, burn, and transfer submissions. PoolLocator
// accepts both the full and the legacy encoded forms.
type TransferRequest struct {
	PoolLocator string
	Signer      string
	From        string
	To          string
	Amount      *big.Int
	TokenIndex  string
	Data        []byte
	URI         string
	RequestID   string
}

// ApprovalRequest grants or revokes operator approval.
type ApprovalRequest struct {
	PoolLocator string
	Signer      string
	Operator    string
	Approved    bool
	Data        []byte
	RequestID   string
}

// CreatePool submits pool creation. The pool locator is not known until the
// TokenPoolCreation event arrives with the assigned type id.
func (s *Service) CreatePool(ctx context.Context, req PoolRequest) (string, error) {
	id := requestID(req.RequestID)
	err := s.conn.SendTransaction(ctx, req.Signer, s.cfg.ContractAddress, id, "create",
		[]any{req.IsFungible, codec.EncodeHex(req.Data)})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) Mint(ctx context.Context, req TransferRequest) (string, error) {
	return s.submit(ctx, methods.OpMint, req.PoolLocator, req.Signer, req.RequestID, methods.Request{
		To:         req.To,
		Amount:     req.Amount,
		TokenIndex: req.TokenIndex,
		Data:       req.Data,
		URI:        req.URI,
	})
}

func (s *Service) Burn(ctx context.Context, req TransferRequest) (string, error) {
	return s.submit(ctx, methods.OpBurn, req.PoolLocator, req.Signer, req.RequestID, methods.Request{
		From:       req.From,
		Amount:     req.Amount,
		TokenIndex: req.TokenIndex,
		Data:       req.Data,
	})
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	return s.submit(ctx, methods.OpTransfer, req.PoolLocator, req.Signer, req.RequestID, methods.Request{
		From:       req.From,
		To:         req.To,
		Amount:     req.Amount,
		TokenIndex: req.TokenIndex,
		Data:       req.Data,
	})
}

func (s *Service) Approval(ctx context.Context, req ApprovalRequest) (string, error) {
	return s.submit(ctx, methods.OpApproval, req.PoolLocator, req.Signer, req.RequestID, methods.Request{
		Operator: req.Operator,
		Approved: req.Approved,
		Data:     req.Data,
	})
}

// Balance queries the on-chain balance of an account within a pool.
func (s *Service) Balance(ctx context.Context, account, poolLocator, tokenIndex string) (string, error) {
	pool, err := s.pool(poolLocator)
	if err != nil {
		return "", err
	}

	index := big.NewInt(0)
	if !pool.IsFungible {
		parsed, ok := new(big.Int).SetString(tokenIndex, 10)
		if !ok {
			return "", fmt.Errorf("bad token index %q", tokenIndex)
		}
		index = parsed
	}
	id, err := codec.PackTokenID(pool.IsFungible, pool.TypeID(), index)
	if err != nil {
		return "", err
	}

	raw, err := s.conn.Query(ctx, pool.Address, "balanceOf", []any{account, id.Text(10)})
	if err != nil {
		return "", err
	}

	var out struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Output == "" {
		return "", fmt.Errorf("unexpected balanceOf response: %s", raw)
	}
	return out.Output, nil
}

// Receipt looks up the receipt for an earlier submission.
func (s *Service) Receipt(ctx context.Context, id string) (*connector.TxReceipt, error) {
	return s.conn.Receipt(ctx, id)
}

func (s *Service) submit(ctx context.Context, op methods.Operation, poolLocator, signer, reqID string, mreq methods.Request) (string, error) {
	pool, err := s.pool(poolLocator)
	if err != nil {
		return "", err
	}
	caps, err := s.capabilities(ctx)
	if err != nil {
		return "", err
	}

	method, params, err := methods.Resolve(op, pool, caps, mreq)
	if err != nil {
		return "", err
	}

	id := requestID(reqID)
	if err := s.conn.SendTransaction(ctx, signer, pool.Address, id, method, params); err != nil {
		return "", err
	}
	return id, nil
}

// pool decodes a locator, defaulting a legacy locator's missing contract
// address to the configured one.
func (s *Service) pool(locator string) (codec.PoolLocator, error) {
	pool, err := codec.DecodePoolLocator(locator)
	if err != nil {
		return codec.PoolLocator{}, err
	}
	if pool.Address == "" {
		pool.Address = s.cfg.ContractAddress
	}
	return pool, nil
}

// capabilities probes the contract's method list once and caches the result.
// Without an info endpoint the full mixed-fungible method set is assumed.
func (s *Service) capabilities(ctx context.Context) (methods.Capabilities, error) {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	if s.capsLoaded {
		return s.caps, nil
	}

	if s.cfg.ContractInfoURL == "" {
		s.caps = methods.Capabilities{WithData: true, WithURI: true}
		s.capsLoaded = true
		return s.caps, nil
	}

	info, err := s.conn.ContractInfo(ctx, s.cfg.ContractInfoURL)
	if err != nil {
		return methods.Capabilities{}, fmt.Errorf("probe contract methods: %w", err)
	}

	s.caps = methods.Capabilities{
		WithData: info.HasMethod("burnWithData") ||
			info.HasMethod("safeTransferFromWithData") ||
			info.HasMethod("setApprovalForAllWithData"),
		WithURI:       info.HasMethod("mintNonFungibleWithURI"),
		ExplicitIndex: info.HasMethod("mint") && !info.HasMethod("mintNonFungible"),
	}
	s.capsLoaded = true
	s.logger.Info("contract capabilities probed",
		"withData", s.caps.WithData,
		"withURI", s.caps.WithURI,
		"explicitIndex", s.caps.ExplicitIndex)
	return s.caps, nil
}

func requestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
