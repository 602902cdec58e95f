package staking

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"perpstake/crypto"
)

var errNegativeTimestamp = errors.New("staking: negative timestamp cannot be persisted")

type storedRound struct {
	StartTime  uint64
	Rate       uint64
	TotalStake uint64
	TotalClaim uint64
}

// storedLedger mirrors RoundLedger. Resolved must remain the final field.
type storedLedger struct {
	Current        storedRound
	Next           storedRound
	ResolvedReward uint64
	ResolvedStake  uint64
	InceptionEpoch uint64
	StakeDecimals  uint8
	RewardDecimals uint8
	Resolved       []storedRound
}

type storedLiquid struct {
	Amount               uint64
	AmountWithMultiplier uint64
	ClaimTime            uint64
}

type storedLocked struct {
	Amount               uint64
	AmountWithMultiplier uint64
	ClaimTime            uint64
	StakeTime            uint64
	LockDays             uint32
	MultiplierBps        uint64
	Finalized            bool
}

type storedAccount struct {
	Owner  [crypto.AddressLength]byte
	Liquid storedLiquid
	Locked []storedLocked
}

func toUnix(ts int64) (uint64, error) {
	if ts < 0 {
		return 0, fmt.Errorf("%w: %d", errNegativeTimestamp, ts)
	}
	return uint64(ts), nil
}

func fromUnix(ts uint64) (int64, error) {
	if ts > 1<<63-1 {
		return 0, fmt.Errorf("staking: timestamp %d out of range", ts)
	}
	return int64(ts), nil
}

func encodeRound(r Round) (storedRound, error) {
	start, err := toUnix(r.StartTime)
	if err != nil {
		return storedRound{}, err
	}
	return storedRound{StartTime: start, Rate: r.Rate, TotalStake: r.TotalStake, TotalClaim: r.TotalClaim}, nil
}

func decodeRound(s storedRound) (Round, error) {
	start, err := fromUnix(s.StartTime)
	if err != nil {
		return Round{}, err
	}
	return Round{StartTime: start, Rate: s.Rate, TotalStake: s.TotalStake, TotalClaim: s.TotalClaim}, nil
}

// EncodeRoundLedger serialises the ledger with RLP.
func EncodeRoundLedger(l *RoundLedger) ([]byte, error) {
	if l == nil {
		return nil, errors.New("staking: nil round ledger")
	}
	if len(l.ResolvedRounds) > MaxResolvedRounds {
		return nil, fmt.Errorf("%w: %d resolved rounds", ErrStorageResize, len(l.ResolvedRounds))
	}
	current, err := encodeRound(l.CurrentRound)
	if err != nil {
		return nil, err
	}
	next, err := encodeRound(l.NextRound)
	if err != nil {
		return nil, err
	}
	stored := storedLedger{
		Current:        current,
		Next:           next,
		ResolvedReward: l.ResolvedRewardTokenAmount,
		ResolvedStake:  l.ResolvedStakeTokenAmount,
		InceptionEpoch: l.InceptionEpoch,
		StakeDecimals:  l.StakeDecimals,
		RewardDecimals: l.RewardDecimals,
		Resolved:       make([]storedRound, len(l.ResolvedRounds)),
	}
	for i, round := range l.ResolvedRounds {
		if stored.Resolved[i], err = encodeRound(round); err != nil {
			return nil, err
		}
	}
	return rlp.EncodeToBytes(stored)
}

// DecodeRoundLedger restores a ledger produced by EncodeRoundLedger.
func DecodeRoundLedger(data []byte) (*RoundLedger, error) {
	var stored storedLedger
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("staking: decode round ledger: %w", err)
	}
	if len(stored.Resolved) > MaxResolvedRounds {
		return nil, fmt.Errorf("%w: %d resolved rounds", ErrStorageResize, len(stored.Resolved))
	}
	current, err := decodeRound(stored.Current)
	if err != nil {
		return nil, err
	}
	next, err := decodeRound(stored.Next)
	if err != nil {
		return nil, err
	}
	l := &RoundLedger{
		CurrentRound:              current,
		NextRound:                 next,
		ResolvedRewardTokenAmount: stored.ResolvedReward,
		ResolvedStakeTokenAmount:  stored.ResolvedStake,
		InceptionEpoch:            stored.InceptionEpoch,
		StakeDecimals:             stored.StakeDecimals,
		RewardDecimals:            stored.RewardDecimals,
		ResolvedRounds:            make([]Round, len(stored.Resolved)),
	}
	for i, round := range stored.Resolved {
		if l.ResolvedRounds[i], err = decodeRound(round); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// EncodeStakeAccount serialises an account with RLP.
func EncodeStakeAccount(a *StakeAccount) ([]byte, error) {
	if a == nil {
		return nil, errors.New("staking: nil stake account")
	}
	claimTime, err := toUnix(a.LiquidStake.ClaimTime)
	if err != nil {
		return nil, err
	}
	stored := storedAccount{
		Owner: a.Owner,
		Liquid: storedLiquid{
			Amount:               a.LiquidStake.Amount,
			AmountWithMultiplier: a.LiquidStake.AmountWithMultiplier,
			ClaimTime:            claimTime,
		},
		Locked: make([]storedLocked, len(a.LockedStakes)),
	}
	for i, locked := range a.LockedStakes {
		claim, err := toUnix(locked.ClaimTime)
		if err != nil {
			return nil, err
		}
		staked, err := toUnix(locked.StakeTime)
		if err != nil {
			return nil, err
		}
		stored.Locked[i] = storedLocked{
			Amount:               locked.Amount,
			AmountWithMultiplier: locked.AmountWithMultiplier,
			ClaimTime:            claim,
			StakeTime:            staked,
			LockDays:             locked.LockDays,
			MultiplierBps:        locked.MultiplierBps,
			Finalized:            locked.Finalized,
		}
	}
	return rlp.EncodeToBytes(stored)
}

// DecodeStakeAccount restores an account produced by EncodeStakeAccount.
func DecodeStakeAccount(data []byte) (*StakeAccount, error) {
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("staking: decode stake account: %w", err)
	}
	claimTime, err := fromUnix(stored.Liquid.ClaimTime)
	if err != nil {
		return nil, err
	}
	a := &StakeAccount{
		Owner: crypto.Address(stored.Owner),
		LiquidStake: LiquidStake{
			Amount:               stored.Liquid.Amount,
			AmountWithMultiplier: stored.Liquid.AmountWithMultiplier,
			ClaimTime:            claimTime,
		},
		LockedStakes: make([]LockedStake, len(stored.Locked)),
	}
	for i, locked := range stored.Locked {
		claim, err := fromUnix(locked.ClaimTime)
		if err != nil {
			return nil, err
		}
		staked, err := fromUnix(locked.StakeTime)
		if err != nil {
			return nil, err
		}
		a.LockedStakes[i] = LockedStake{
			Amount:               locked.Amount,
			AmountWithMultiplier: locked.AmountWithMultiplier,
			ClaimTime:            claim,
			StakeTime:            staked,
			LockDays:             locked.LockDays,
			MultiplierBps:        locked.MultiplierBps,
			Finalized:            locked.Finalized,
		}
	}
	return a, nil
}
