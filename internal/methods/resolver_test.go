package methods

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/marko911/token-bridge/internal/codec"
)

func fungiblePool(t *testing.T) codec.PoolLocator {
	t.Helper()
	locator, err := codec.DecodePoolLocator("id=F1&block=5")
	if err != nil {
		t.Fatalf("decode locator: %v", err)
	}
	return locator
}

func nonFungiblePool(t *testing.T) codec.PoolLocator {
	t.Helper()
	locator, err := codec.DecodePoolLocator("id=N1&block=5")
	if err != nil {
		t.Fatalf("decode locator: %v", err)
	}
	return locator
}

func TestResolve_MintFungible(t *testing.T) {
	method, params, err := Resolve(OpMint, fungiblePool(t), Capabilities{}, Request{
		To:     "1",
		Amount: big.NewInt(2),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "mintFungible" {
		t.Errorf("method: got %q, want mintFungible", method)
	}

	want := []any{"1", []string{"1"}, []string{"2"}, "0x00"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params:\n got %#v\nwant %#v", params, want)
	}
}

func TestResolve_MintNonFungibleAutoIndex(t *testing.T) {
	method, params, err := Resolve(OpMint, nonFungiblePool(t), Capabilities{}, Request{
		To:     "0xrecipient",
		Amount: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "mintNonFungible" {
		t.Errorf("method: got %q, want mintNonFungible", method)
	}
	want := []any{"1", []string{"0xrecipient"}, "0x00"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params:\n got %#v\nwant %#v", params, want)
	}
}

func TestResolve_MintNonFungibleWithURI(t *testing.T) {
	method, params, err := Resolve(OpMint, nonFungiblePool(t), Capabilities{WithURI: true}, Request{
		To:     "0xrecipient",
		Amount: big.NewInt(1),
		URI:    "ipfs://meta",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "mintNonFungibleWithURI" {
		t.Errorf("method: got %q, want mintNonFungibleWithURI", method)
	}
	if params[3] != "ipfs://meta" {
		t.Errorf("uri param: got %v", params[3])
	}
}

func TestResolve_MintExplicitIndex(t *testing.T) {
	method, params, err := Resolve(OpMint, nonFungiblePool(t), Capabilities{ExplicitIndex: true}, Request{
		To:         "0xrecipient",
		Amount:     big.NewInt(1),
		TokenIndex: "1",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "mint" {
		t.Errorf("method: got %q, want mint", method)
	}

	wantID, err := codec.PackTokenID(false, big.NewInt(1), big.NewInt(1))
	if err != nil {
		t.Fatalf("pack id: %v", err)
	}
	if params[1] != wantID.Text(10) {
		t.Errorf("id param: got %v, want %s", params[1], wantID.Text(10))
	}
}

func TestResolve_IndexRules(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		req  Request
	}{
		{
			"explicit-index contract requires an index",
			Capabilities{ExplicitIndex: true},
			Request{To: "0x1", Amount: big.NewInt(1)},
		},
		{
			"auto-index mint rejects a supplied index",
			Capabilities{},
			Request{To: "0x1", Amount: big.NewInt(1), TokenIndex: "3"},
		},
		{
			"auto-index mint rejects amount other than 1",
			Capabilities{},
			Request{To: "0x1", Amount: big.NewInt(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Resolve(OpMint, nonFungiblePool(t), tt.caps, tt.req)
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}

func TestResolve_Transfer(t *testing.T) {
	pool := nonFungiblePool(t)

	method, params, err := Resolve(OpTransfer, pool, Capabilities{WithData: true}, Request{
		From:       "0xa",
		To:         "0xb",
		Amount:     big.NewInt(1),
		TokenIndex: "7",
		Data:       []byte("note"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "safeTransferFromWithData" {
		t.Errorf("method: got %q, want safeTransferFromWithData", method)
	}
	if len(params) != 5 {
		t.Fatalf("expected 5 params, got %d", len(params))
	}
	if params[4] != codec.EncodeHex([]byte("note")) {
		t.Errorf("data param: got %v", params[4])
	}

	// Without the WithData capability, the plain variant wins.
	method, _, err = Resolve(OpTransfer, pool, Capabilities{}, Request{
		From:       "0xa",
		To:         "0xb",
		Amount:     big.NewInt(1),
		TokenIndex: "7",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "safeTransferFrom" {
		t.Errorf("method: got %q, want safeTransferFrom", method)
	}
}

func TestResolve_Burn(t *testing.T) {
	method, params, err := Resolve(OpBurn, fungiblePool(t), Capabilities{}, Request{
		From:   "0xa",
		Amount: big.NewInt(5),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "burn" {
		t.Errorf("method: got %q, want burn", method)
	}

	wantID, _ := codec.PackTokenID(true, big.NewInt(1), big.NewInt(0))
	want := []any{"0xa", wantID.Text(10), "5"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params:\n got %#v\nwant %#v", params, want)
	}
}

func TestResolve_Approval(t *testing.T) {
	method, params, err := Resolve(OpApproval, fungiblePool(t), Capabilities{WithData: true}, Request{
		Operator: "0xop",
		Approved: true,
		Data:     []byte{0x01},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if method != "setApprovalForAllWithData" {
		t.Errorf("method: got %q, want setApprovalForAllWithData", method)
	}
	want := []any{"0xop", true, "0x01"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params:\n got %#v\nwant %#v", params, want)
	}
}

func TestResolve_NoApplicableCandidate(t *testing.T) {
	// Transfer of a non-fungible token without an index has no variant.
	_, _, err := Resolve(OpTransfer, nonFungiblePool(t), Capabilities{}, Request{
		From:   "0xa",
		To:     "0xb",
		Amount: big.NewInt(1),
	})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	_, _, err = Resolve(Operation("freeze"), fungiblePool(t), Capabilities{}, Request{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for unknown op, got %v", err)
	}
}
