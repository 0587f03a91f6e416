package core

import "testing"

const testAddr = "fvc123456789012345678901234567890123456emyl"

func TestAddressValidate(t *testing.T) {
	cases := []struct {
		name string
		addr Address
		want bool
	}{
		{"well formed", testAddr, true},
		{"ecosystem address", EcosystemAddress, true},
		{"wrong prefix", "abc123456789012345678901234567890123456emyl", false},
		{"wrong suffix", "fvc123456789012345678901234567890123456xxxx", false},
		{"too short", "fvc1234emyl", false},
		{"uppercase hex rejected", "fvcABC456789012345678901234567890123456emyl", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.addr.Validate(); got != c.want {
				t.Fatalf("Validate() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	var hh Hash
	hh[0] = 0xaa
	hh[31] = 0xff
	hex := hh.Hex()
	back, err := HashFromHex(hex)
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	if back != hh {
		t.Fatalf("round trip mismatch: %x != %x", back, hh)
	}
}

func TestHashFromHexRejectsWrongLength(t *testing.T) {
	if _, err := HashFromHex("aabbcc"); err == nil {
		t.Fatalf("expected error for short hex string")
	}
}

func TestHashShort(t *testing.T) {
	var hh Hash
	hh[0] = 0xaa
	hh[1] = 0xbb
	if short := hh.Short(); len(short) == 0 {
		t.Fatalf("expected non-empty short string")
	}
	if (Hash{}).Short() == "" {
		t.Fatalf("expected zero hash to still produce a short string")
	}
}

func TestHashIsZero(t *testing.T) {
	var hh Hash
	if !hh.IsZero() {
		t.Fatalf("expected zero-value hash to report IsZero")
	}
	hh[0] = 1
	if hh.IsZero() {
		t.Fatalf("expected non-zero hash to report !IsZero")
	}
}

func TestBlockValidateTransactionCountMismatch(t *testing.T) {
	b := &Block{
		Header:       BlockHeader{Height: 1, TransactionCount: 1},
		Transactions: nil,
	}
	if err := b.Validate(); err == nil {
		t.Fatalf("expected error on transaction count mismatch")
	}
}

func TestBlockValidateTimestampMismatch(t *testing.T) {
	b := &Block{
		Header: BlockHeader{Height: 1, Timestamp: 100, TransactionCount: 1},
		Transactions: []*Transaction{
			{Hash: "x", Timestamp: 200, BlockHeight: 1},
		},
	}
	if err := b.Validate(); err == nil {
		t.Fatalf("expected error on tx timestamp mismatch")
	}
}

func TestBlockValidateOK(t *testing.T) {
	b := &Block{
		Header: BlockHeader{Height: 1, Timestamp: 100, TransactionCount: 1},
		Transactions: []*Transaction{
			{Hash: "x", Timestamp: 100, BlockHeight: 1},
		},
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBlockEncodeDecodeJSON(t *testing.T) {
	b := &Block{Header: BlockHeader{Height: 5}, Transactions: nil}
	data, err := b.EncodeJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBlockJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Height() != 5 {
		t.Fatalf("expected height 5, got %d", decoded.Height())
	}
}
