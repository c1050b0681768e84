// Package tokens implements the semantic token layer: translating raw
// contract events into protocol messages, and submitting token operations
// through the method resolver and the connector.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/marko911/token-bridge/internal/codec"
	"github.com/marko911/token-bridge/internal/gateway"
	"github.com/marko911/token-bridge/internal/stream"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

var ErrUnknownSignature = errors.New("unrecognized event signature")

// Event signatures matched against the upstream stream. An optional routing
// tag prefix ("tag:Signature(...)") is stripped before matching.
const (
	eventPoolCreation   = "TokenPoolCreation"
	eventTransferSingle = "TransferSingle"
	eventTransferBatch  = "TransferBatch"
	eventApprovalForAll = "ApprovalForAll"
)

// PoolPayload announces a newly created pool.
type PoolPayload struct {
	Type        string `json:"type"`
	PoolLocator string `json:"poolLocator"`
	Signer      string `json:"signer,omitempty"`
	Data        string `json:"data,omitempty"`
	Blockchain  Chain  `json:"blockchain"`
}

// TransferPayload describes one mint, burn, or transfer.
type TransferPayload struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	PoolLocator string `json:"poolLocator"`
	TokenIndex  string `json:"tokenIndex,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Signer      string `json:"signer,omitempty"`
	Amount      string `json:"amount"`
	Data        string `json:"data,omitempty"`
	Blockchain  Chain  `json:"blockchain"`
}

// ApprovalPayload describes an operator approval change.
type ApprovalPayload struct {
	ID          string `json:"id"`
	PoolLocator string `json:"poolLocator"`
	Signer      string `json:"signer,omitempty"`
	Operator    string `json:"operator"`
	Approved    bool   `json:"approved"`
	Blockchain  Chain  `json:"blockchain"`
}

// Chain carries the on-chain provenance of a message.
type Chain struct {
	BlockNumber      string `json:"blockNumber"`
	TransactionIndex string `json:"transactionIndex"`
	TransactionHash  string `json:"transactionHash"`
	LogIndex         string `json:"logIndex"`
	Signature        string `json:"signature"`
	Timestamp        string `json:"timestamp,omitempty"`
	Address          string `json:"address,omitempty"`
}

// Listener translates raw token-contract events into protocol messages.
// Implements gateway.EventListener.
type Listener struct {
	logger *slog.Logger
}

func NewListener(logger *slog.Logger) *Listener {
	return &Listener{logger: logger.With("component", "token-listener")}
}

// Transform maps one raw event onto zero or more protocol messages. An
// unrecognized signature is an explicit error so the gateway drops the
// event loudly instead of proceeding silently.
func (l *Listener) Transform(ctx context.Context, sub codec.SubscriptionName, ev stream.Event) ([]gateway.Message, error) {
	switch signatureName(ev.Signature) {
	case eventPoolCreation:
		return l.poolCreation(sub, ev)
	case eventTransferSingle:
		return l.transferSingle(sub, ev)
	case eventTransferBatch:
		return l.transferBatch(sub, ev)
	case eventApprovalForAll:
		return l.approvalForAll(sub, ev)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignature, ev.Signature)
	}
}

func (l *Listener) poolCreation(sub codec.SubscriptionName, ev stream.Event) ([]gateway.Message, error) {
	typeID, err := dataBigInt(ev.Data, "type_id")
	if err != nil {
		return nil, err
	}
	isFungible, baseType, _ := codec.UnpackTokenID(typeID)

	blockNumber, err := parseUint(ev.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("bad block number %q: %w", ev.BlockNumber, err)
	}
	locator, err := codec.NewPoolLocator(ev.Address, isFungible, baseType, blockNumber)
	if err != nil {
		return nil, err
	}

	payload := PoolPayload{
		Type:        poolType(isFungible),
		PoolLocator: locator.Encode(),
		Signer:      dataString(ev.Data, "operator"),
		Data:        decodedData(ev.Data),
		Blockchain:  chainInfo(ev),
	}
	return []gateway.Message{{Event: "token-pool", Data: payload}}, nil
}

func (l *Listener) transferSingle(sub codec.SubscriptionName, ev stream.Event) ([]gateway.Message, error) {
	id, err := dataBigInt(ev.Data, "id")
	if err != nil {
		return nil, err
	}

	payload, err := transferPayload(sub, ev, id, dataString(ev.Data, "value"), correlationID(ev))
	if err != nil {
		return nil, err
	}
	return []gateway.Message{{Event: transferEvent(payload.From, payload.To), Data: payload}}, nil
}

// transferBatch expands one TransferBatch log into independent per-token
// transfers, each with a distinct sub-sequence suffix on its correlation id.
func (l *Listener) transferBatch(sub codec.SubscriptionName, ev stream.Event) ([]gateway.Message, error) {
	ids, err := dataSlice(ev.Data, "ids")
	if err != nil {
		return nil, err
	}
	values, err := dataSlice(ev.Data, "values")
	if err != nil {
		return nil, err
	}
	if len(ids) != len(values) {
		return nil, fmt.Errorf("TransferBatch ids/values length mismatch: %d vs %d", len(ids), len(values))
	}

	base := correlationID(ev)
	messages := make([]gateway.Message, 0, len(ids))
	for i := range ids {
		id, err := toBigInt(ids[i])
		if err != nil {
			return nil, fmt.Errorf("bad id at position %d: %w", i, err)
		}
		payload, err := transferPayload(sub, ev, id, toDecimalString(values[i]), fmt.Sprintf("%s/%d", base, i))
		if err != nil {
			return nil, err
		}
		messages = append(messages, gateway.Message{Event: transferEvent(payload.From, payload.To), Data: payload})
	}
	return messages, nil
}

func (l *Listener) approvalForAll(sub codec.SubscriptionName, ev stream.Event) ([]gateway.Message, error) {
	signer := dataString(ev.Data, "account")
	if signer == "" {
		signer = dataString(ev.Data, "owner")
	}

	payload := ApprovalPayload{
		ID:          correlationID(ev),
		PoolLocator: sub.PoolLocator,
		Signer:      signer,
		Operator:    dataString(ev.Data, "operator"),
		Approved:    dataBool(ev.Data, "approved"),
		Blockchain:  chainInfo(ev),
	}
	return []gateway.Message{{Event: "token-approval", Data: payload}}, nil
}

func transferPayload(sub codec.SubscriptionName, ev stream.Event, id *big.Int, amount, correlation string) (TransferPayload, error) {
	isFungible, _, index := codec.UnpackTokenID(id)

	payload := TransferPayload{
		ID:          correlation,
		Type:        poolType(isFungible),
		PoolLocator: sub.PoolLocator,
		From:        dataString(ev.Data, "from"),
		To:          dataString(ev.Data, "to"),
		Signer:      dataString(ev.Data, "operator"),
		Amount:      amount,
		Data:        decodedData(ev.Data),
		Blockchain:  chainInfo(ev),
	}
	if !isFungible {
		payload.TokenIndex = index.Text(10)
	}
	if payload.From == zeroAddress {
		payload.From = ""
	}
	if payload.To == zeroAddress {
		payload.To = ""
	}
	return payload, nil
}

// transferEvent classifies a transfer by its zero-address ends.
func transferEvent(from, to string) string {
	switch {
	case from == "":
		return "token-mint"
	case to == "":
		return "token-burn"
	default:
		return "token-transfer"
	}
}

func poolType(isFungible bool) string {
	if isFungible {
		return "fungible"
	}
	return "nonfungible"
}

// correlationID is the durable per-log identifier downstream consumers see.
func correlationID(ev stream.Event) string {
	return ev.BlockNumber + "." + ev.TransactionIndex + "." + ev.LogIndex
}

func chainInfo(ev stream.Event) Chain {
	return Chain{
		BlockNumber:      ev.BlockNumber,
		TransactionIndex: ev.TransactionIndex,
		TransactionHash:  ev.TransactionHash,
		LogIndex:         ev.LogIndex,
		Signature:        signatureName(ev.Signature) + signatureArgs(ev.Signature),
		Timestamp:        ev.Timestamp,
		Address:          ev.Address,
	}
}

// signatureName extracts the bare event name, stripping a routing tag
// prefix and the argument list.
func signatureName(signature string) string {
	if i := strings.Index(signature, "("); i >= 0 {
		signature = signature[:i]
	}
	if i := strings.LastIndex(signature, ":"); i >= 0 {
		signature = signature[i+1:]
	}
	return signature
}

func signatureArgs(signature string) string {
	if i := strings.Index(signature, "("); i >= 0 {
		return signature[i:]
	}
	return ""
}

// decodedData recovers the operator-supplied data bytes from the event.
func decodedData(data map[string]any) string {
	encoded := dataString(data, "data")
	if encoded == "" {
		return ""
	}
	decoded, err := codec.DecodeHex(encoded)
	if err != nil {
		return ""
	}
	return string(decoded)
}
