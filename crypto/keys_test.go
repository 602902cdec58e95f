package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	addr := DeriveAddress("vault/reward")
	encoded := addr.String()
	if encoded[:5] != "perp1" {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %x != %x", decoded, addr)
	}
	var viaText Address
	if err := viaText.UnmarshalText([]byte(encoded)); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if viaText != addr {
		t.Fatalf("text round trip mismatch")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	conv, err := bech32.ConvertBits(make([]byte, AddressLength), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	foreign, err := bech32.Encode("cosmos", conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(foreign); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := DecodeAddress("not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "owner.json")
	if err := SaveToKeystore(path, key, "secret", true); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("address mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
