package types

import "testing"

func TestParseAddress(t *testing.T) {
	hex := "0x0102030405060708090a0b0c0d0e0f1011121314"
	addr, err := ParseAddress(hex)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.Hex() != hex {
		t.Fatalf("round trip mismatch: %s", addr.Hex())
	}

	// Bare hex without the prefix is accepted too.
	bare, err := ParseAddress(hex[2:])
	if err != nil || bare != addr {
		t.Fatalf("bare hex parse failed: %v", err)
	}

	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("short address accepted")
	}
	if _, err := ParseAddress("0xzz02030405060708090a0b0c0d0e0f1011121314"); err == nil {
		t.Fatalf("non-hex address accepted")
	}
}

func TestAddressIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatalf("zero address not reported zero")
	}
	addr := Address{19: 1}
	if addr.IsZero() {
		t.Fatalf("non-zero address reported zero")
	}
}
