package staking

import (
	"fmt"

	"perpstake/native/fixedpoint"
)

const (
	// RoundSize is the persisted footprint of one round: start time, rate,
	// total stake and total claim as 8-byte words.
	RoundSize = 32
	// LedgerHeadSize covers the fixed part of a RoundLedger: the current and
	// next rounds, both aggregates, the inception epoch, the two decimal
	// bytes and the resolved list length prefix.
	LedgerHeadSize = 2*RoundSize + 3*8 + 2 + 4
)

// Round is a window over which rewards accrue at a single rate. Rate is
// expressed with RateDecimals and fixed at resolution. TotalStake and
// TotalClaim are stake weights, so a round is settled once every eligible
// weight has claimed.
type Round struct {
	StartTime  int64  `json:"startTime"`
	Rate       uint64 `json:"rate"`
	TotalStake uint64 `json:"totalStake"`
	TotalClaim uint64 `json:"totalClaim"`
}

// NewRound opens an empty round at startTime.
func NewRound(startTime int64) Round {
	return Round{StartTime: startTime}
}

// Settled reports whether every eligible stake has claimed the round.
func (r Round) Settled() bool {
	return r.TotalClaim == r.TotalStake
}

// RateDecimal exposes the rate as an exponent-tagged value.
func (r Round) RateDecimal() fixedpoint.Decimal {
	return fixedpoint.NewDecimal(r.Rate, -RateDecimals)
}

// Eligible reports whether a stake last processed at claimTime earns from
// the round.
func (r Round) Eligible(claimTime int64) bool {
	return claimTime < r.StartTime
}

// RoundLedger is the process-wide record of rounds. ResolvedRounds must stay
// the last field: it is the only variable-length part of the record.
type RoundLedger struct {
	CurrentRound Round `json:"currentRound"`
	NextRound    Round `json:"nextRound"`
	// ResolvedRewardTokenAmount is the reward allocated to resolved rounds and
	// not yet paid out, rounding dust included.
	ResolvedRewardTokenAmount uint64 `json:"resolvedRewardTokenAmount"`
	// ResolvedStakeTokenAmount is the stake weight of resolved rounds that has
	// not claimed yet.
	ResolvedStakeTokenAmount uint64  `json:"resolvedStakeTokenAmount"`
	InceptionEpoch           uint64  `json:"inceptionEpoch"`
	StakeDecimals            uint8   `json:"stakeDecimals"`
	RewardDecimals           uint8   `json:"rewardDecimals"`
	ResolvedRounds           []Round `json:"resolvedRounds"`
}

// NewRoundLedger initialises the ledger with the current round opening at
// genesis.
func NewRoundLedger(genesis int64, inceptionEpoch uint64, stakeDecimals, rewardDecimals uint8) *RoundLedger {
	return &RoundLedger{
		CurrentRound:   NewRound(genesis),
		NextRound:      NewRound(genesis),
		InceptionEpoch: inceptionEpoch,
		StakeDecimals:  stakeDecimals,
		RewardDecimals: rewardDecimals,
		ResolvedRounds: []Round{},
	}
}

// Clone returns a deep copy that shares no backing storage with l.
func (l *RoundLedger) Clone() *RoundLedger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.ResolvedRounds = make([]Round, len(l.ResolvedRounds))
	copy(clone.ResolvedRounds, l.ResolvedRounds)
	return &clone
}

// Size returns the persisted footprint of the ledger.
func (l *RoundLedger) Size() int {
	return LedgerHeadSize + len(l.ResolvedRounds)*RoundSize
}

// NewSize returns the footprint after adding (or, when negative, dropping)
// delta resolved rounds.
func (l *RoundLedger) NewSize(delta int) (int, error) {
	size := l.Size() + delta*RoundSize
	if size < LedgerHeadSize {
		return 0, fmt.Errorf("%w: %d rounds cannot drop %d", ErrStorageResize, len(l.ResolvedRounds), -delta)
	}
	if size > LedgerHeadSize+MaxResolvedRounds*RoundSize {
		return 0, fmt.Errorf("%w: backlog would exceed %d rounds", ErrStorageResize, MaxResolvedRounds)
	}
	return size, nil
}

// Resolvable reports whether the current round has lasted RoundMinDuration.
func (l *RoundLedger) Resolvable(now int64) (bool, error) {
	end, err := addSeconds(l.CurrentRound.StartTime, RoundMinDuration)
	if err != nil {
		return false, err
	}
	return now >= end, nil
}

// resize replaces the resolved list with rounds, reallocating to the exact
// length so no trailing entries survive a shrink.
func (l *RoundLedger) resize(rounds []Round) error {
	if _, err := l.NewSize(len(rounds) - len(l.ResolvedRounds)); err != nil {
		return err
	}
	exact := make([]Round, len(rounds))
	copy(exact, rounds)
	l.ResolvedRounds = exact
	return nil
}

// bumpNextStart keeps the next round opening strictly after a stake created
// at now.
func (l *RoundLedger) bumpNextStart(now int64) error {
	if l.NextRound.StartTime > now {
		return nil
	}
	start, err := addSeconds(now, 1)
	if err != nil {
		return err
	}
	l.NextRound.StartTime = start
	return nil
}

func addSeconds(ts, delta int64) (int64, error) {
	if delta > 0 && ts > (1<<63-1)-delta {
		return 0, fmt.Errorf("%w: timestamp %d + %d", fixedpoint.ErrArithmeticOverflow, ts, delta)
	}
	if delta < 0 && ts < (-1<<63)-delta {
		return 0, fmt.Errorf("%w: timestamp %d - %d", fixedpoint.ErrArithmeticUnderflow, ts, -delta)
	}
	return ts + delta, nil
}
