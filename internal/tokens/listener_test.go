package tokens

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/marko911/token-bridge/internal/codec"
	"github.com/marko911/token-bridge/internal/stream"
)

const testAddress = "0x7e4e1e4c3f67435a5e6b4e2a0d1b6e83aa970d3c"

func packedID(t *testing.T, isFungible bool, typeID, index int64) string {
	t.Helper()
	id, err := codec.PackTokenID(isFungible, big.NewInt(typeID), big.NewInt(index))
	if err != nil {
		t.Fatalf("PackTokenID: %v", err)
	}
	return id.Text(10)
}

func testSub(t *testing.T, isFungible bool, typeID int64) codec.SubscriptionName {
	t.Helper()
	locator, err := codec.NewPoolLocator(testAddress, isFungible, big.NewInt(typeID), 42)
	if err != nil {
		t.Fatalf("NewPoolLocator: %v", err)
	}
	return codec.SubscriptionName{
		Address:     testAddress,
		PoolLocator: locator.Encode(),
		Event:       "TransferSingle",
	}
}

func testEvent(signature string, data map[string]any) stream.Event {
	return stream.Event{
		SubID:            "sub1",
		Signature:        signature,
		Address:          testAddress,
		BlockNumber:      "100",
		TransactionIndex: "3",
		TransactionHash:  "0xabc",
		LogIndex:         "7",
		Timestamp:        "1756400000",
		Data:             data,
	}
}

func TestTransferSingleClassification(t *testing.T) {
	listener := NewListener(slog.Default())
	sub := testSub(t, true, 1)

	tests := []struct {
		name      string
		from, to  string
		wantEvent string
		wantFrom  string
		wantTo    string
	}{
		{"mint", zeroAddress, "0x2222222222222222222222222222222222222222", "token-mint", "", "0x2222222222222222222222222222222222222222"},
		{"burn", "0x1111111111111111111111111111111111111111", zeroAddress, "token-burn", "0x1111111111111111111111111111111111111111", ""},
		{"transfer", "0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222", "token-transfer", "0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := testEvent("TransferSingle(address,address,address,uint256,uint256)", map[string]any{
				"operator": "0x3333333333333333333333333333333333333333",
				"from":     tc.from,
				"to":       tc.to,
				"id":       packedID(t, true, 1, 0),
				"value":    "5",
			})

			messages, err := listener.Transform(context.Background(), sub, ev)
			if err != nil {
				t.Fatalf("Transform: %v", err)
			}
			if len(messages) != 1 {
				t.Fatalf("got %d messages, want 1", len(messages))
			}
			if messages[0].Event != tc.wantEvent {
				t.Errorf("event = %q, want %q", messages[0].Event, tc.wantEvent)
			}

			payload := messages[0].Data.(TransferPayload)
			if payload.From != tc.wantFrom {
				t.Errorf("from = %q, want %q", payload.From, tc.wantFrom)
			}
			if payload.To != tc.wantTo {
				t.Errorf("to = %q, want %q", payload.To, tc.wantTo)
			}
			if payload.ID != "100.3.7" {
				t.Errorf("id = %q, want %q", payload.ID, "100.3.7")
			}
			if payload.Amount != "5" {
				t.Errorf("amount = %q, want %q", payload.Amount, "5")
			}
			if payload.Type != "fungible" {
				t.Errorf("type = %q, want fungible", payload.Type)
			}
			if payload.TokenIndex != "" {
				t.Errorf("tokenIndex = %q, want empty for fungible", payload.TokenIndex)
			}
			if payload.PoolLocator != sub.PoolLocator {
				t.Errorf("poolLocator = %q, want %q", payload.PoolLocator, sub.PoolLocator)
			}
		})
	}
}

func TestTransferSingleNonFungibleIndex(t *testing.T) {
	listener := NewListener(slog.Default())
	sub := testSub(t, false, 9)

	ev := testEvent("TransferSingle(address,address,address,uint256,uint256)", map[string]any{
		"operator": "0x3333333333333333333333333333333333333333",
		"from":     zeroAddress,
		"to":       "0x2222222222222222222222222222222222222222",
		"id":       packedID(t, false, 9, 13),
		"value":    "1",
	})

	messages, err := listener.Transform(context.Background(), sub, ev)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	payload := messages[0].Data.(TransferPayload)
	if payload.Type != "nonfungible" {
		t.Errorf("type = %q, want nonfungible", payload.Type)
	}
	if payload.TokenIndex != "13" {
		t.Errorf("tokenIndex = %q, want 13", payload.TokenIndex)
	}
}

func TestTransferBatchExpansion(t *testing.T) {
	listener := NewListener(slog.Default())
	sub := testSub(t, false, 2)

	ev := testEvent("TransferBatch(address,address,address,uint256[],uint256[])", map[string]any{
		"operator": "0x3333333333333333333333333333333333333333",
		"from":     "0x1111111111111111111111111111111111111111",
		"to":       "0x2222222222222222222222222222222222222222",
		"ids":      []any{packedID(t, false, 2, 4), packedID(t, false, 2, 5)},
		"values":   []any{"1", "1"},
	})

	messages, err := listener.Transform(context.Background(), sub, ev)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	first := messages[0].Data.(TransferPayload)
	second := messages[1].Data.(TransferPayload)
	if first.ID != "100.3.7/0" || second.ID != "100.3.7/1" {
		t.Errorf("ids = %q, %q; want sub-sequenced suffixes", first.ID, second.ID)
	}
	if first.TokenIndex != "4" || second.TokenIndex != "5" {
		t.Errorf("indices = %q, %q; want 4, 5", first.TokenIndex, second.TokenIndex)
	}
}

func TestTransferBatchLengthMismatch(t *testing.T) {
	listener := NewListener(slog.Default())

	ev := testEvent("TransferBatch(address,address,address,uint256[],uint256[])", map[string]any{
		"from":   "0x1111111111111111111111111111111111111111",
		"to":     "0x2222222222222222222222222222222222222222",
		"ids":    []any{packedID(t, false, 2, 4)},
		"values": []any{"1", "2"},
	})

	if _, err := listener.Transform(context.Background(), testSub(t, false, 2), ev); err == nil {
		t.Fatal("expected error for mismatched ids/values")
	}
}

func TestPoolCreation(t *testing.T) {
	listener := NewListener(slog.Default())

	ev := testEvent("TokenPoolCreation(address,uint256,bytes)", map[string]any{
		"operator": "0x3333333333333333333333333333333333333333",
		"type_id":  packedID(t, true, 6, 0),
		"data":     codec.EncodeHex([]byte("pool-metadata")),
	})

	messages, err := listener.Transform(context.Background(), testSub(t, true, 6), ev)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if messages[0].Event != "token-pool" {
		t.Fatalf("event = %q, want token-pool", messages[0].Event)
	}

	payload := messages[0].Data.(PoolPayload)
	want, err := codec.NewPoolLocator(testAddress, true, big.NewInt(6), 100)
	if err != nil {
		t.Fatalf("NewPoolLocator: %v", err)
	}
	if payload.PoolLocator != want.Encode() {
		t.Errorf("poolLocator = %q, want %q", payload.PoolLocator, want.Encode())
	}
	if payload.Type != "fungible" {
		t.Errorf("type = %q, want fungible", payload.Type)
	}
	if payload.Data != "pool-metadata" {
		t.Errorf("data = %q, want decoded pool-metadata", payload.Data)
	}
}

func TestApprovalForAll(t *testing.T) {
	listener := NewListener(slog.Default())
	sub := testSub(t, true, 1)

	ev := testEvent("ApprovalForAll(address,address,bool)", map[string]any{
		"account":  "0x1111111111111111111111111111111111111111",
		"operator": "0x3333333333333333333333333333333333333333",
		"approved": true,
	})

	messages, err := listener.Transform(context.Background(), sub, ev)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if messages[0].Event != "token-approval" {
		t.Fatalf("event = %q, want token-approval", messages[0].Event)
	}

	payload := messages[0].Data.(ApprovalPayload)
	if payload.Signer != "0x1111111111111111111111111111111111111111" {
		t.Errorf("signer = %q", payload.Signer)
	}
	if !payload.Approved {
		t.Error("approved = false, want true")
	}
}

func TestSignatureTagStripped(t *testing.T) {
	listener := NewListener(slog.Default())
	sub := testSub(t, true, 1)

	ev := testEvent("erc1155:TransferSingle(address,address,address,uint256,uint256)", map[string]any{
		"from":  zeroAddress,
		"to":    "0x2222222222222222222222222222222222222222",
		"id":    packedID(t, true, 1, 0),
		"value": "1",
	})

	messages, err := listener.Transform(context.Background(), sub, ev)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if messages[0].Event != "token-mint" {
		t.Errorf("event = %q, want token-mint", messages[0].Event)
	}
	payload := messages[0].Data.(TransferPayload)
	if payload.Blockchain.Signature != "TransferSingle(address,address,address,uint256,uint256)" {
		t.Errorf("signature = %q, want tag stripped", payload.Blockchain.Signature)
	}
}

func TestUnknownSignature(t *testing.T) {
	listener := NewListener(slog.Default())

	ev := testEvent("URI(string,uint256)", map[string]any{"value": "ipfs://x"})
	_, err := listener.Transform(context.Background(), testSub(t, true, 1), ev)
	if !errors.Is(err, ErrUnknownSignature) {
		t.Fatalf("err = %v, want ErrUnknownSignature", err)
	}
}
