package ledger

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"perpstake/crypto"
	"perpstake/native/staking"
	"perpstake/storage"
)

var (
	roundLedgerKey     = ethcrypto.Keccak256([]byte("staking/round-ledger"))
	stakeAccountPrefix = []byte("staking/account/")
	// stakeOwnerPrefix indexes every stored account by its raw owner bytes so
	// the keeper can walk them in key order.
	stakeOwnerPrefix = []byte("staking/owner/")
	errLedgerMissing   = errors.New("ledger: round ledger not initialised")
)

type kv interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

type prefixIterator interface {
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

func stakeAccountKey(owner crypto.Address) []byte {
	buf := make([]byte, len(stakeAccountPrefix)+crypto.AddressLength)
	copy(buf, stakeAccountPrefix)
	copy(buf[len(stakeAccountPrefix):], owner[:])
	return ethcrypto.Keccak256(buf)
}

func stakeOwnerKey(owner crypto.Address) []byte {
	buf := make([]byte, len(stakeOwnerPrefix)+crypto.AddressLength)
	copy(buf, stakeOwnerPrefix)
	copy(buf[len(stakeOwnerPrefix):], owner[:])
	return buf
}

// stakeOwners lists indexed owners in key order. limit <= 0 returns every
// owner.
func stakeOwners(db prefixIterator, limit int) ([]crypto.Address, error) {
	var (
		owners []crypto.Address
		bad    error
	)
	err := db.Iterate(stakeOwnerPrefix, func(key, _ []byte) bool {
		raw := key[len(stakeOwnerPrefix):]
		if len(raw) != crypto.AddressLength {
			bad = fmt.Errorf("ledger: malformed owner index key %x", key)
			return false
		}
		owners = append(owners, crypto.BytesToAddress(raw))
		return limit <= 0 || len(owners) < limit
	})
	if err != nil {
		return nil, err
	}
	return owners, bad
}

func loadRoundLedger(db kv) (*staking.RoundLedger, error) {
	raw, err := db.Get(roundLedgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errLedgerMissing
	}
	if err != nil {
		return nil, err
	}
	return staking.DecodeRoundLedger(raw)
}

func saveRoundLedger(db kv, l *staking.RoundLedger) error {
	encoded, err := staking.EncodeRoundLedger(l)
	if err != nil {
		return err
	}
	return db.Put(roundLedgerKey, encoded)
}

// loadStakeAccount returns an empty account for owners that never staked.
func loadStakeAccount(db kv, owner crypto.Address) (*staking.StakeAccount, error) {
	raw, err := db.Get(stakeAccountKey(owner))
	if errors.Is(err, storage.ErrNotFound) {
		return staking.NewStakeAccount(owner), nil
	}
	if err != nil {
		return nil, err
	}
	acct, err := staking.DecodeStakeAccount(raw)
	if err != nil {
		return nil, err
	}
	if acct.Owner != owner {
		return nil, fmt.Errorf("%w: stored %s, requested %s", staking.ErrOwnerMismatch, acct.Owner, owner)
	}
	return acct, nil
}

// saveStakeAccount drops accounts that no longer hold anything.
func saveStakeAccount(db kv, acct *staking.StakeAccount) error {
	if acct.Empty() {
		if err := db.Delete(stakeOwnerKey(acct.Owner)); err != nil {
			return err
		}
		return db.Delete(stakeAccountKey(acct.Owner))
	}
	encoded, err := staking.EncodeStakeAccount(acct)
	if err != nil {
		return err
	}
	if err := db.Put(stakeOwnerKey(acct.Owner), []byte{1}); err != nil {
		return err
	}
	return db.Put(stakeAccountKey(acct.Owner), encoded)
}
