package codec

import (
	"math/big"
	"testing"
)

const testAddress = "0x4ae7ebdA3635a5104CaA89Ff5fa1cBa6E2c9b0B4"

func TestPoolLocatorRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		isFungible bool
		typeID     *big.Int
		block      uint64
	}{
		{"fungible pool", true, big.NewInt(1), 5},
		{"nonfungible pool", false, big.NewInt(1), 12},
		{"high type id", false, big.NewInt(100000), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locator, err := NewPoolLocator(testAddress, tt.isFungible, tt.typeID, tt.block)
			if err != nil {
				t.Fatalf("new locator: %v", err)
			}

			decoded, err := DecodePoolLocator(locator.Encode())
			if err != nil {
				t.Fatalf("decode %q: %v", locator.Encode(), err)
			}

			if decoded.Address != locator.Address {
				t.Errorf("address: got %q, want %q", decoded.Address, locator.Address)
			}
			if decoded.IsFungible != locator.IsFungible {
				t.Errorf("fungibility: got %v, want %v", decoded.IsFungible, locator.IsFungible)
			}
			if decoded.StartID.Cmp(locator.StartID) != 0 {
				t.Errorf("startId: got %s, want %s", decoded.StartID, locator.StartID)
			}
			if decoded.EndID.Cmp(locator.EndID) != 0 {
				t.Errorf("endId: got %s, want %s", decoded.EndID, locator.EndID)
			}
			if decoded.BlockNumber != locator.BlockNumber {
				t.Errorf("block: got %d, want %d", decoded.BlockNumber, locator.BlockNumber)
			}
		})
	}
}

func TestPoolLocatorEncodeOrder(t *testing.T) {
	locator, err := NewPoolLocator(testAddress, true, big.NewInt(1), 5)
	if err != nil {
		t.Fatalf("new locator: %v", err)
	}
	want := "address=" + testAddress +
		"&type=fungible" +
		"&startId=0x100000000000000000000000000000000" +
		"&endId=0x100000000000000000000000000000000" +
		"&block=5"
	if got := locator.Encode(); got != want {
		t.Errorf("encode:\n got %s\nwant %s", got, want)
	}
}

func TestDecodeLegacyLocator(t *testing.T) {
	decoded, err := DecodePoolLocator("id=N1&block=5")
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}

	full, err := NewPoolLocator("", false, big.NewInt(1), 5)
	if err != nil {
		t.Fatalf("new locator: %v", err)
	}

	if decoded.IsFungible {
		t.Error("N1 must be non-fungible")
	}
	if decoded.StartID.Cmp(full.StartID) != 0 || decoded.EndID.Cmp(full.EndID) != 0 {
		t.Errorf("legacy range [%s,%s] != full range [%s,%s]",
			decoded.StartID, decoded.EndID, full.StartID, full.EndID)
	}
	if decoded.BlockNumber != 5 {
		t.Errorf("block: got %d, want 5", decoded.BlockNumber)
	}

	// Block is optional in the legacy form.
	decoded, err = DecodePoolLocator("id=F1")
	if err != nil {
		t.Fatalf("decode legacy without block: %v", err)
	}
	if !decoded.IsFungible || decoded.BlockNumber != 0 {
		t.Errorf("unexpected legacy decode: %+v", decoded)
	}
}

func TestDecodePoolLocator_Rejects(t *testing.T) {
	bad := []string{
		"",
		"id=X1",
		"id=F",
		"id=Fabc",
		"address=0x1&type=fungible", // missing range and block
		"address=nothex&type=fungible&startId=0x1&endId=0x1&block=1",
		"address=" + testAddress + "&type=other&startId=0x1&endId=0x1&block=1",
		"address=" + testAddress + "&type=fungible&startId=0x1&endId=0x1&block=nan",
	}
	for _, s := range bad {
		if _, err := DecodePoolLocator(s); err == nil {
			t.Errorf("DecodePoolLocator(%q): expected error", s)
		}
	}
}

func TestPoolID(t *testing.T) {
	locator, err := NewPoolLocator(testAddress, false, big.NewInt(3), 0)
	if err != nil {
		t.Fatalf("new locator: %v", err)
	}
	if got := locator.PoolID(); got != "N3" {
		t.Errorf("PoolID() = %q, want N3", got)
	}
	if got := locator.TypeID(); got.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("TypeID() = %s, want 3", got)
	}
}
