package codec

import (
	"math/big"
	"testing"
)

func TestPackUnpackTokenID(t *testing.T) {
	tests := []struct {
		name       string
		isFungible bool
		typeID     *big.Int
		index      *big.Int
	}{
		{"fungible type 1", true, big.NewInt(1), big.NewInt(0)},
		{"fungible large type", true, new(big.Int).Sub(maxTypeID, big.NewInt(0)), big.NewInt(0)},
		{"nonfungible first item", false, big.NewInt(1), big.NewInt(1)},
		{"nonfungible index 0", false, big.NewInt(7), big.NewInt(0)},
		{"nonfungible max index", false, big.NewInt(2), new(big.Int).Set(maxTokenIndex)},
		{"nonfungible max type", false, new(big.Int).Set(maxTypeID), big.NewInt(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := PackTokenID(tt.isFungible, tt.typeID, tt.index)
			if err != nil {
				t.Fatalf("pack error: %v", err)
			}

			isFungible, typeID, index := UnpackTokenID(id)
			if isFungible != tt.isFungible {
				t.Errorf("fungibility: got %v, want %v", isFungible, tt.isFungible)
			}
			if typeID.Cmp(tt.typeID) != 0 {
				t.Errorf("type id: got %s, want %s", typeID, tt.typeID)
			}
			if index.Cmp(tt.index) != 0 {
				t.Errorf("index: got %s, want %s", index, tt.index)
			}
		})
	}
}

func TestPackTokenID_FungibleBitClear(t *testing.T) {
	id, err := PackTokenID(true, big.NewInt(5), big.NewInt(0))
	if err != nil {
		t.Fatalf("pack error: %v", err)
	}
	if id.Bit(255) != 0 {
		t.Error("fungible id must have the non-fungible bit clear")
	}

	want := new(big.Int).Lsh(big.NewInt(5), 128)
	if id.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", id, want)
	}
}

func TestPackTokenID_Errors(t *testing.T) {
	tooBigType := new(big.Int).Add(maxTypeID, big.NewInt(1))
	tooBigIndex := new(big.Int).Add(maxTokenIndex, big.NewInt(1))

	if _, err := PackTokenID(true, tooBigType, big.NewInt(0)); err == nil {
		t.Error("expected error for oversized type id")
	}
	if _, err := PackTokenID(false, big.NewInt(1), tooBigIndex); err == nil {
		t.Error("expected error for oversized index")
	}
	if _, err := PackTokenID(true, big.NewInt(1), big.NewInt(1)); err == nil {
		t.Error("expected error for fungible id with index")
	}
	if _, err := PackTokenID(false, big.NewInt(-1), big.NewInt(0)); err == nil {
		t.Error("expected error for negative type id")
	}
}
