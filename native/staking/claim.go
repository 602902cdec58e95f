package staking

import (
	"fmt"

	"perpstake/crypto"
	"perpstake/native/fixedpoint"
)

// ClaimResult captures the outcome of a claim. A zero Reward is a valid
// outcome: bookkeeping still advances but nothing is transferred.
type ClaimResult struct {
	Owner  crypto.Address `json:"owner"`
	Caller crypto.Address `json:"caller"`
	// Reward is the total leaving the reward vault.
	Reward       uint64 `json:"reward"`
	OwnerAmount  uint64 `json:"ownerAmount"`
	CallerAmount uint64 `json:"callerAmount"`
	// ClaimedWeight is the stake weight credited to resolved rounds.
	ClaimedWeight uint64 `json:"claimedWeight"`
	RoundsClaimed int    `json:"roundsClaimed"`
	RoundsPruned  int    `json:"roundsPruned"`
	ClaimTime     int64  `json:"claimTime"`
}

// ThirdParty reports whether the claim was triggered on the owner's behalf.
func (r ClaimResult) ThirdParty() bool { return r.Caller != r.Owner }

// Claim settles every resolved round the account's stakes are eligible for.
// Rewards are always credited to the account owner; caller only receives the
// CallerFeeBps share when it differs from the owner. Fully claimed rounds are
// pruned in the same call. Both records are left untouched on error.
func Claim(l *RoundLedger, acct *StakeAccount, caller crypto.Address, params Params) (ClaimResult, error) {
	ledger := l.Clone()
	account := acct.Clone()
	result := ClaimResult{Owner: account.Owner, Caller: caller}

	kept := make([]Round, 0, len(ledger.ResolvedRounds))
	for _, round := range ledger.ResolvedRounds {
		claimed := false
		credit := func(weight uint64, claimTime int64) error {
			if weight == 0 || !round.Eligible(claimTime) {
				return nil
			}
			reward, err := ledger.RewardFor(weight, round.Rate)
			if err != nil {
				return err
			}
			if result.Reward, err = fixedpoint.CheckedAdd(result.Reward, reward); err != nil {
				return err
			}
			if round.TotalClaim, err = fixedpoint.CheckedAdd(round.TotalClaim, weight); err != nil {
				return err
			}
			if result.ClaimedWeight, err = fixedpoint.CheckedAdd(result.ClaimedWeight, weight); err != nil {
				return err
			}
			claimed = true
			return nil
		}
		for _, locked := range account.LockedStakes {
			if locked.Finalized {
				continue
			}
			if err := credit(locked.AmountWithMultiplier, locked.ClaimTime); err != nil {
				return ClaimResult{}, err
			}
		}
		if err := credit(account.LiquidStake.AmountWithMultiplier, account.LiquidStake.ClaimTime); err != nil {
			return ClaimResult{}, err
		}
		if round.TotalClaim > round.TotalStake {
			return ClaimResult{}, fmt.Errorf("%w: round %d claimed %d of %d", ErrRoundOverclaimed, round.StartTime, round.TotalClaim, round.TotalStake)
		}
		if claimed {
			result.RoundsClaimed++
		}
		if round.Settled() {
			result.RoundsPruned++
			continue
		}
		kept = append(kept, round)
	}
	if err := ledger.resize(kept); err != nil {
		return ClaimResult{}, err
	}

	// Keep the stakes eligible for the current round without reopening any
	// resolved one. Stakes created during the current round stay excluded.
	// Round totals already count a stake exactly while it is eligible, so
	// advancing the claim time needs no move between current and next.
	claimTime, err := addSeconds(ledger.CurrentRound.StartTime, -1)
	if err != nil {
		return ClaimResult{}, err
	}
	result.ClaimTime = claimTime
	for i := range account.LockedStakes {
		if account.LockedStakes[i].Finalized {
			continue
		}
		if account.LockedStakes[i].ClaimTime < claimTime {
			account.LockedStakes[i].ClaimTime = claimTime
		}
	}
	if account.LiquidStake.Active() && account.LiquidStake.ClaimTime < claimTime {
		account.LiquidStake.ClaimTime = claimTime
	}

	if ledger.ResolvedStakeTokenAmount, err = fixedpoint.CheckedSub(ledger.ResolvedStakeTokenAmount, result.ClaimedWeight); err != nil {
		return ClaimResult{}, err
	}
	if ledger.ResolvedRewardTokenAmount, err = fixedpoint.CheckedSub(ledger.ResolvedRewardTokenAmount, result.Reward); err != nil {
		return ClaimResult{}, err
	}

	result.OwnerAmount = result.Reward
	if result.ThirdParty() && params.CallerFeeBps > 0 && result.Reward > 0 {
		if result.CallerAmount, err = fixedpoint.MulDiv(result.Reward, params.CallerFeeBps, MultiplierBasisPoints); err != nil {
			return ClaimResult{}, err
		}
		if result.OwnerAmount, err = fixedpoint.CheckedSub(result.Reward, result.CallerAmount); err != nil {
			return ClaimResult{}, err
		}
	}

	*l = *ledger
	*acct = *account
	return result, nil
}
