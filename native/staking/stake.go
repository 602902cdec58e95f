package staking

import (
	"perpstake/crypto"
	"perpstake/native/fixedpoint"
)

// LiquidStake is the unlocked position of an account. Its multiplier is 1x so
// AmountWithMultiplier always equals Amount.
type LiquidStake struct {
	Amount               uint64 `json:"amount"`
	AmountWithMultiplier uint64 `json:"amountWithMultiplier"`
	// ClaimTime is the last time the stake was created or processed by a
	// claim. The stake earns from rounds that start after it.
	ClaimTime int64 `json:"claimTime"`
}

// Active reports whether the stake carries weight.
func (s LiquidStake) Active() bool { return s.AmountWithMultiplier > 0 }

// LockedStake is a fixed-duration commitment. The multiplier is set at
// creation and never re-evaluated.
type LockedStake struct {
	Amount               uint64 `json:"amount"`
	AmountWithMultiplier uint64 `json:"amountWithMultiplier"`
	ClaimTime            int64  `json:"claimTime"`
	StakeTime            int64  `json:"stakeTime"`
	LockDays             uint32 `json:"lockDays"`
	MultiplierBps        uint64 `json:"multiplierBps"`
	// Finalized stakes no longer earn and may be withdrawn.
	Finalized bool `json:"finalized"`
}

// Active reports whether the stake still earns rewards.
func (s LockedStake) Active() bool { return !s.Finalized && s.AmountWithMultiplier > 0 }

// UnlockTime returns the first second at which the stake may be finalized.
func (s LockedStake) UnlockTime() (int64, error) {
	return addSeconds(s.StakeTime, int64(s.LockDays)*SecondsPerDay)
}

// NewLockedStake weights amount by the multiplier of a lockDays commitment.
func NewLockedStake(amount uint64, lockDays uint32, now int64) (LockedStake, error) {
	if amount == 0 {
		return LockedStake{}, ErrZeroAmount
	}
	bps, err := LockMultiplierBps(lockDays)
	if err != nil {
		return LockedStake{}, err
	}
	weight, err := fixedpoint.MulDiv(amount, bps, MultiplierBasisPoints)
	if err != nil {
		return LockedStake{}, err
	}
	return LockedStake{
		Amount:               amount,
		AmountWithMultiplier: weight,
		ClaimTime:            now,
		StakeTime:            now,
		LockDays:             lockDays,
		MultiplierBps:        bps,
	}, nil
}

// StakeAccount holds the positions of a single owner.
type StakeAccount struct {
	Owner        crypto.Address `json:"owner"`
	LiquidStake  LiquidStake    `json:"liquidStake"`
	LockedStakes []LockedStake  `json:"lockedStakes"`
}

// NewStakeAccount returns an empty account for owner.
func NewStakeAccount(owner crypto.Address) *StakeAccount {
	return &StakeAccount{Owner: owner, LockedStakes: []LockedStake{}}
}

// Clone returns a deep copy of the account.
func (a *StakeAccount) Clone() *StakeAccount {
	if a == nil {
		return nil
	}
	clone := *a
	clone.LockedStakes = make([]LockedStake, len(a.LockedStakes))
	copy(clone.LockedStakes, a.LockedStakes)
	return &clone
}

// Empty reports whether the account holds no principal at all.
func (a *StakeAccount) Empty() bool {
	return a.LiquidStake.Amount == 0 && len(a.LockedStakes) == 0
}

// Owes reports whether an earning stake of the account is still eligible for
// r, which keeps r from being pruned until the account claims.
func (a *StakeAccount) Owes(r Round) bool {
	if a.LiquidStake.Active() && r.Eligible(a.LiquidStake.ClaimTime) {
		return true
	}
	for _, locked := range a.LockedStakes {
		if locked.Active() && r.Eligible(locked.ClaimTime) {
			return true
		}
	}
	return false
}

// Weight sums the reward weight of every earning stake.
func (a *StakeAccount) Weight() (uint64, error) {
	total := a.LiquidStake.AmountWithMultiplier
	for _, locked := range a.LockedStakes {
		if !locked.Active() {
			continue
		}
		var err error
		if total, err = fixedpoint.CheckedAdd(total, locked.AmountWithMultiplier); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Principal sums every staked amount, finalized stakes included.
func (a *StakeAccount) Principal() (uint64, error) {
	total := a.LiquidStake.Amount
	for _, locked := range a.LockedStakes {
		var err error
		if total, err = fixedpoint.CheckedAdd(total, locked.Amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}
