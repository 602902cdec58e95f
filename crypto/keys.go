package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the bech32 human-readable part of an address.
type AddressPrefix string

const (
	// WalletPrefix marks owner and vault addresses.
	WalletPrefix AddressPrefix = "perp"

	// AddressLength is the size of the raw address payload.
	AddressLength = 20
)

// ErrInvalidAddress is returned when a string cannot be decoded into an address.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address identifies a token account. The zero value is the empty address.
type Address [AddressLength]byte

// BytesToAddress copies the trailing AddressLength bytes of b.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// DeriveAddress returns a deterministic address for a named system account
// such as a vault.
func DeriveAddress(label string) Address {
	return BytesToAddress(crypto.Keccak256([]byte(label)))
}

func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

func (a Address) IsZero() bool { return a == Address{} }

// String renders the address in bech32 with the wallet prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(WalletPrefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 address carrying the wallet prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if AddressPrefix(prefix) != WalletPrefix {
		return Address{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("%w: payload is %d bytes", ErrInvalidAddress, len(conv))
	}
	return BytesToAddress(conv), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Address derives the wallet address controlled by the key.
func (k *PrivateKey) Address() Address {
	return BytesToAddress(crypto.PubkeyToAddress(k.PrivateKey.PublicKey).Bytes())
}
