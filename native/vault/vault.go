package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	pcrypto "perpstake/crypto"
	"perpstake/native/fixedpoint"
	"perpstake/storage"
)

// Token names a fungible asset tracked by the vault ledger.
type Token string

const (
	// StakeToken is the liquidity-mining token participants lock up.
	StakeToken Token = "STAKE"
	// RewardToken is paid out to stakers from protocol fees.
	RewardToken Token = "REWARD"
)

var (
	// StakeVault holds every staked principal.
	StakeVault = pcrypto.DeriveAddress("perpstake/vault/stake")
	// RewardVault holds minted rewards until they are claimed.
	RewardVault = pcrypto.DeriveAddress("perpstake/vault/reward")
)

var (
	// ErrInsufficientVaultBalance is returned when a debit exceeds the
	// source balance.
	ErrInsufficientVaultBalance = errors.New("vault: insufficient balance")
	// ErrUnsupportedToken is returned for tokens outside the ledger.
	ErrUnsupportedToken = errors.New("vault: unsupported token")
)

// KV is the subset of storage the vault needs. Both storage.Database and
// storage.Overlay satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
}

// Ledger tracks token balances per address.
type Ledger struct {
	kv KV
}

// New binds a vault ledger to kv.
func New(kv KV) *Ledger {
	return &Ledger{kv: kv}
}

// ParseToken normalises a token symbol.
func ParseToken(symbol string) (Token, error) {
	switch Token(strings.ToUpper(strings.TrimSpace(symbol))) {
	case StakeToken:
		return StakeToken, nil
	case RewardToken:
		return RewardToken, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedToken, symbol)
}

func balanceKey(addr pcrypto.Address, token Token) []byte {
	buf := make([]byte, 0, len("vault/balance/")+pcrypto.AddressLength+len(token))
	buf = append(buf, "vault/balance/"...)
	buf = append(buf, addr[:]...)
	buf = append(buf, token...)
	return crypto.Keccak256(buf)
}

func supplyKey(token Token) []byte {
	return crypto.Keccak256([]byte("vault/supply/" + string(token)))
}

func (l *Ledger) read(key []byte) (uint64, error) {
	raw, err := l.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	if err := rlp.DecodeBytes(raw, &v); err != nil {
		return 0, fmt.Errorf("vault: decode balance: %w", err)
	}
	return v, nil
}

func (l *Ledger) write(key []byte, v uint64) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	return l.kv.Put(key, encoded)
}

func checkToken(token Token) error {
	if token != StakeToken && token != RewardToken {
		return fmt.Errorf("%w: %q", ErrUnsupportedToken, token)
	}
	return nil
}

// Balance returns the balance of addr in token. Unknown accounts hold zero.
func (l *Ledger) Balance(addr pcrypto.Address, token Token) (uint64, error) {
	if err := checkToken(token); err != nil {
		return 0, err
	}
	return l.read(balanceKey(addr, token))
}

// Supply returns the total amount of token minted.
func (l *Ledger) Supply(token Token) (uint64, error) {
	if err := checkToken(token); err != nil {
		return 0, err
	}
	return l.read(supplyKey(token))
}

// Mint credits amount of token to addr and grows the supply.
func (l *Ledger) Mint(to pcrypto.Address, token Token, amount uint64) error {
	if err := checkToken(token); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	supply, err := l.read(supplyKey(token))
	if err != nil {
		return err
	}
	if supply, err = fixedpoint.CheckedAdd(supply, amount); err != nil {
		return fmt.Errorf("vault: mint %s: %w", token, err)
	}
	balance, err := l.read(balanceKey(to, token))
	if err != nil {
		return err
	}
	if balance, err = fixedpoint.CheckedAdd(balance, amount); err != nil {
		return fmt.Errorf("vault: mint %s: %w", token, err)
	}
	if err := l.write(supplyKey(token), supply); err != nil {
		return err
	}
	return l.write(balanceKey(to, token), balance)
}

// Transfer moves amount of token between two accounts. A zero amount is a
// no-op. The source must hold at least amount.
func (l *Ledger) Transfer(from, to pcrypto.Address, token Token, amount uint64) error {
	if err := checkToken(token); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	fromBalance, err := l.read(balanceKey(from, token))
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s holds %d %s, need %d", ErrInsufficientVaultBalance, from, fromBalance, token, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.read(balanceKey(to, token))
	if err != nil {
		return err
	}
	if toBalance, err = fixedpoint.CheckedAdd(toBalance, amount); err != nil {
		return fmt.Errorf("vault: credit %s: %w", token, err)
	}
	if err := l.write(balanceKey(from, token), fromBalance-amount); err != nil {
		return err
	}
	return l.write(balanceKey(to, token), toBalance)
}
