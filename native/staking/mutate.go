package staking

import (
	"fmt"

	"perpstake/native/fixedpoint"
)

// The mutations below require the account to be settled with Claim in the same
// transaction. A stake's weight is counted in a round's TotalStake exactly
// when it is eligible for that round, and every earning stake is eligible for
// the next round.

func (l *RoundLedger) addWeight(claimTime int64, weight uint64) error {
	var err error
	if l.NextRound.TotalStake, err = fixedpoint.CheckedAdd(l.NextRound.TotalStake, weight); err != nil {
		return err
	}
	if l.CurrentRound.Eligible(claimTime) {
		if l.CurrentRound.TotalStake, err = fixedpoint.CheckedAdd(l.CurrentRound.TotalStake, weight); err != nil {
			return err
		}
	}
	return nil
}

func (l *RoundLedger) removeWeight(claimTime int64, weight uint64) error {
	var err error
	if l.NextRound.TotalStake, err = fixedpoint.CheckedSub(l.NextRound.TotalStake, weight); err != nil {
		return fmt.Errorf("staking: next round stake: %w", err)
	}
	if l.CurrentRound.Eligible(claimTime) {
		if l.CurrentRound.TotalStake, err = fixedpoint.CheckedSub(l.CurrentRound.TotalStake, weight); err != nil {
			return fmt.Errorf("staking: current round stake: %w", err)
		}
	}
	return nil
}

// settled fails when an earning stake of acct is still owed a resolved round.
// Changing its weight or claim time would strand that round forever.
func settled(l *RoundLedger, acct *StakeAccount) error {
	for _, round := range l.ResolvedRounds {
		if acct.LiquidStake.Active() && round.Eligible(acct.LiquidStake.ClaimTime) {
			return fmt.Errorf("%w: round %d", ErrStakeNotSettled, round.StartTime)
		}
		for _, locked := range acct.LockedStakes {
			if locked.Active() && round.Eligible(locked.ClaimTime) {
				return fmt.Errorf("%w: round %d", ErrStakeNotSettled, round.StartTime)
			}
		}
	}
	return nil
}

// AddLiquidStake tops up the liquid stake. The whole liquid position restarts
// at now, so it leaves the current round unless that round has not opened yet.
func AddLiquidStake(l *RoundLedger, acct *StakeAccount, amount uint64, now int64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if err := settled(l, acct); err != nil {
		return err
	}
	ledger := l.Clone()
	account := acct.Clone()
	old := account.LiquidStake
	if old.Active() {
		if err := ledger.removeWeight(old.ClaimTime, old.AmountWithMultiplier); err != nil {
			return err
		}
	}
	total, err := fixedpoint.CheckedAdd(old.Amount, amount)
	if err != nil {
		return err
	}
	if err := ledger.bumpNextStart(now); err != nil {
		return err
	}
	if err := ledger.addWeight(now, total); err != nil {
		return err
	}
	account.LiquidStake = LiquidStake{Amount: total, AmountWithMultiplier: total, ClaimTime: now}
	*l = *ledger
	*acct = *account
	return nil
}

// AddLockedStake appends a new locked stake of lockDays.
func AddLockedStake(l *RoundLedger, acct *StakeAccount, params Params, amount uint64, lockDays uint32, now int64) (LockedStake, error) {
	if len(acct.LockedStakes) >= params.MaxLockedStakes {
		return LockedStake{}, fmt.Errorf("%w: limit %d", ErrTooManyLockedStakes, params.MaxLockedStakes)
	}
	stake, err := NewLockedStake(amount, lockDays, now)
	if err != nil {
		return LockedStake{}, err
	}
	ledger := l.Clone()
	if err := ledger.bumpNextStart(now); err != nil {
		return LockedStake{}, err
	}
	if err := ledger.addWeight(now, stake.AmountWithMultiplier); err != nil {
		return LockedStake{}, err
	}
	*l = *ledger
	acct.LockedStakes = append(acct.LockedStakes, stake)
	return stake, nil
}

// RemoveLiquidStake withdraws amount from the liquid stake. The remainder
// keeps its eligibility.
func RemoveLiquidStake(l *RoundLedger, acct *StakeAccount, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	stake := acct.LiquidStake
	if amount > stake.Amount {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientStake, stake.Amount, amount)
	}
	if err := settled(l, acct); err != nil {
		return err
	}
	ledger := l.Clone()
	if err := ledger.removeWeight(stake.ClaimTime, amount); err != nil {
		return err
	}
	stake.Amount -= amount
	stake.AmountWithMultiplier -= amount
	*l = *ledger
	acct.LiquidStake = stake
	return nil
}

func lockedAt(acct *StakeAccount, index int) (LockedStake, error) {
	if index < 0 || index >= len(acct.LockedStakes) {
		return LockedStake{}, fmt.Errorf("%w: index %d", ErrStakeNotFound, index)
	}
	return acct.LockedStakes[index], nil
}

// FinalizeLockedStake stops a locked stake from earning once its lock has
// elapsed. Anyone may finalize on the owner's behalf.
func FinalizeLockedStake(l *RoundLedger, acct *StakeAccount, index int, now int64) (LockedStake, error) {
	stake, err := lockedAt(acct, index)
	if err != nil {
		return LockedStake{}, err
	}
	if stake.Finalized {
		return LockedStake{}, ErrLockedStakeFinalized
	}
	unlock, err := stake.UnlockTime()
	if err != nil {
		return LockedStake{}, err
	}
	if now < unlock {
		return LockedStake{}, fmt.Errorf("%w: unlocks at %d", ErrLockNotElapsed, unlock)
	}
	if err := settled(l, acct); err != nil {
		return LockedStake{}, err
	}
	ledger := l.Clone()
	if err := ledger.removeWeight(stake.ClaimTime, stake.AmountWithMultiplier); err != nil {
		return LockedStake{}, err
	}
	stake.Finalized = true
	*l = *ledger
	acct.LockedStakes[index] = stake
	return stake, nil
}

// RemoveLockedStake drops a finalized locked stake and returns it so the
// caller can release its principal.
func RemoveLockedStake(acct *StakeAccount, index int, now int64) (LockedStake, error) {
	stake, err := lockedAt(acct, index)
	if err != nil {
		return LockedStake{}, err
	}
	if !stake.Finalized {
		unlock, err := stake.UnlockTime()
		if err != nil {
			return LockedStake{}, err
		}
		if now < unlock {
			return LockedStake{}, fmt.Errorf("%w: unlocks at %d", ErrStakeLocked, unlock)
		}
		return LockedStake{}, ErrStakeNotFinalized
	}
	remaining := make([]LockedStake, 0, len(acct.LockedStakes)-1)
	remaining = append(remaining, acct.LockedStakes[:index]...)
	remaining = append(remaining, acct.LockedStakes[index+1:]...)
	acct.LockedStakes = remaining
	return stake, nil
}
