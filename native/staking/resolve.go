package staking

import (
	"fmt"

	"perpstake/native/fixedpoint"
)

// ResolveResult describes a completed round resolution.
type ResolveResult struct {
	// Resolved is the round that was closed, with its rate fixed.
	Resolved Round `json:"resolved"`
	// Allocation is the reward reserved for the resolved round's stakers.
	Allocation uint64 `json:"allocation"`
	// RewardPool is the unallocated reward the rate was derived from.
	RewardPool uint64 `json:"rewardPool"`
	// Current is the round opened by the resolution.
	Current Round `json:"current"`
	Backlog int   `json:"backlog"`
}

// RewardPool returns the reward accrued since the last resolution given the
// reward vault balance. Everything above the resolved reward aggregate
// backs the current round.
func (l *RoundLedger) RewardPool(vaultBalance uint64) (uint64, error) {
	pool, err := fixedpoint.CheckedSub(vaultBalance, l.ResolvedRewardTokenAmount)
	if err != nil {
		return 0, fmt.Errorf("staking: reward vault below resolved rewards: %w", err)
	}
	return pool, nil
}

// ComputeRate derives the reward per staked token (RateDecimals precision)
// for rewardPool spread over totalStake. A round without stake keeps a zero
// rate.
func (l *RoundLedger) ComputeRate(rewardPool, totalStake uint64) (uint64, error) {
	if totalStake == 0 || rewardPool == 0 {
		return 0, nil
	}
	return fixedpoint.DecimalDiv(
		rewardPool, -int32(l.RewardDecimals),
		totalStake, -int32(l.StakeDecimals),
		-RateDecimals,
	)
}

// RewardFor converts a stake weight and a round rate into reward tokens.
func (l *RoundLedger) RewardFor(weight, rate uint64) (uint64, error) {
	return fixedpoint.DecimalMul(
		weight, -int32(l.StakeDecimals),
		rate, -RateDecimals,
		-int32(l.RewardDecimals),
	)
}

// ResolveRound closes the current round, fixes its rate from rewardPool and
// promotes the next round. Anyone may call it once the current round has
// lasted RoundMinDuration. The ledger is left untouched on error.
func (l *RoundLedger) ResolveRound(now int64, rewardPool uint64) (ResolveResult, error) {
	ok, err := l.Resolvable(now)
	if err != nil {
		return ResolveResult{}, err
	}
	if !ok {
		return ResolveResult{}, fmt.Errorf("%w: round started at %d, now %d", ErrRoundNotYetResolvable, l.CurrentRound.StartTime, now)
	}

	next := l.Clone()
	round := next.CurrentRound
	round.TotalClaim = 0
	if round.Rate, err = next.ComputeRate(rewardPool, round.TotalStake); err != nil {
		return ResolveResult{}, fmt.Errorf("staking: compute rate: %w", err)
	}
	allocation, err := next.RewardFor(round.TotalStake, round.Rate)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("staking: compute allocation: %w", err)
	}

	// A round nobody staked in is settled on arrival and never enters the
	// backlog; its reward stays in the pool for the next round.
	if !round.Settled() {
		if err := next.resize(append(next.ResolvedRounds, round)); err != nil {
			return ResolveResult{}, err
		}
	}

	promoted := next.NextRound
	if now > promoted.StartTime {
		promoted.StartTime = now
	}
	next.CurrentRound = promoted
	next.NextRound = Round{StartTime: promoted.StartTime, TotalStake: promoted.TotalStake}

	if next.ResolvedRewardTokenAmount, err = fixedpoint.CheckedAdd(next.ResolvedRewardTokenAmount, allocation); err != nil {
		return ResolveResult{}, err
	}
	if next.ResolvedStakeTokenAmount, err = fixedpoint.CheckedAdd(next.ResolvedStakeTokenAmount, round.TotalStake); err != nil {
		return ResolveResult{}, err
	}

	*l = *next
	return ResolveResult{
		Resolved:   round,
		Allocation: allocation,
		RewardPool: rewardPool,
		Current:    l.CurrentRound,
		Backlog:    len(l.ResolvedRounds),
	}, nil
}
